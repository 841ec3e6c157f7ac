package payflow

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ProbeResponse is the raw result of fetching a target URL. A nil Headers
// map is treated as empty.
type ProbeResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Fetcher retrieves a URL on behalf of a session. Implementations own
// timeout and redirect policy; the core only distinguishes "a response" from
// "an error".
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*ProbeResponse, error)
}

// AdvisorFunc produces advisory text for a payment demand during
// negotiation. The output is archived in the negotiation history and message
// log; the state machine never acts on its content.
type AdvisorFunc func(ctx context.Context, demand PaymentDemand, history []NegotiationRound) (string, error)

// Clock supplies the current time. Injectable for deterministic tests.
type Clock func() time.Time

// HTTPFetcher is the default Fetcher backed by a net/http client.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch performs a GET against the target URL and flattens the response
// into a ProbeResponse. Multi-valued headers keep their first value.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*ProbeResponse, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentSnapshot+1))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &ProbeResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}
