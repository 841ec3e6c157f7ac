package payflow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Payment discovery headers checked on a 402 response, in precedence order.
const (
	headerWWWAuthenticate = "WWW-Authenticate"
	headerPaymentAmount   = "Payment-Amount"
	headerAcceptPayment   = "Accept-Payment"
)

// protocolTag prefixes the WWW-Authenticate challenge for this protocol.
const protocolTag = "x402"

// Defaults applied when a 402 response omits the fields.
const (
	defaultToken = "USDC"
	defaultRealm = "Access to resource"
)

// maxContentSnapshot bounds the content captured from a freely accessible
// resource.
const maxContentSnapshot = 5000

var addressPattern = regexp.MustCompile(`address=([^;,\s]+)`)

// ProbeResult is the outcome of probing a URL for a payment requirement.
// Exactly one of Demand, Content, or Err carries the interesting payload:
// a 402 with a parseable demand sets Demand, a 200 sets Content, and
// anything else sets Err. Err is informational; a probe failure is never
// fatal to the caller.
type ProbeResult struct {
	RequiresPayment bool           `json:"requires_payment"`
	Demand          *PaymentDemand `json:"payment_request,omitempty"`
	Content         string         `json:"content,omitempty"`
	Err             string         `json:"error,omitempty"`
}

// demandBody is the JSON body shape consulted as the last parsing fallback.
type demandBody struct {
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
	Address  string `json:"address"`
	Token    string `json:"token"`
}

// ParseProbeResponse extracts a normalized payment demand from a raw probe
// response. Pure function of its inputs; never panics on malformed data.
//
// For a 402 the sources are consulted in precedence order, each one only
// filling fields still empty:
//  1. WWW-Authenticate challenge with the x402 tag (comma-separated k=v)
//  2. Payment-Amount (space-separated k=v, amount/currency)
//  3. Accept-Payment (address=<value>)
//  4. JSON body (amount, receiver/address, token)
func ParseProbeResponse(url string, resp *ProbeResponse) ProbeResult {
	switch resp.StatusCode {
	case http.StatusOK:
		content := string(resp.Body)
		if len(content) > maxContentSnapshot {
			content = content[:maxContentSnapshot]
		}
		return ProbeResult{RequiresPayment: false, Content: content}

	case http.StatusPaymentRequired:
		return parsePaymentRequired(url, resp)

	default:
		return ProbeResult{
			RequiresPayment: false,
			Err:             fmt.Sprintf("request failed with status %d", resp.StatusCode),
		}
	}
}

func parsePaymentRequired(url string, resp *ProbeResponse) ProbeResult {
	var amount, receiver string
	token := defaultToken
	realm := defaultRealm

	// Primary source: the x402 challenge header.
	if wwwAuth := headerValue(resp.Headers, headerWWWAuthenticate); strings.HasPrefix(strings.ToLower(wwwAuth), protocolTag) && len(wwwAuth) > len(protocolTag) {
		for _, part := range strings.Split(wwwAuth[len(protocolTag)+1:], ",") {
			key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			val = strings.Trim(val, `"'`)
			switch key {
			case "amount":
				amount = val
			case "token":
				token = val
			case "receiver":
				receiver = val
			case "realm":
				realm = val
			}
		}
	}

	// Secondary source: space-separated amount/currency pairs.
	if amount == "" {
		for _, part := range strings.Fields(headerValue(resp.Headers, headerPaymentAmount)) {
			key, val, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			switch key {
			case "amount":
				amount = val
			case "currency":
				token = val
			}
		}
	}

	// Third source: an address embedded in Accept-Payment.
	if receiver == "" {
		if match := addressPattern.FindStringSubmatch(headerValue(resp.Headers, headerAcceptPayment)); match != nil {
			receiver = match[1]
		}
	}

	// Last resort: a structured body.
	if amount == "" || receiver == "" {
		var body demandBody
		if err := json.Unmarshal(resp.Body, &body); err == nil {
			if amount == "" {
				amount = body.Amount
			}
			if receiver == "" {
				receiver = body.Receiver
				if receiver == "" {
					receiver = body.Address
				}
			}
			if token == "" && body.Token != "" {
				token = body.Token
			}
		}
	}

	if amount == "" || receiver == "" {
		return ProbeResult{
			RequiresPayment: true,
			Err:             "could not parse payment details from 402 response",
		}
	}

	return ProbeResult{
		RequiresPayment: true,
		Demand: &PaymentDemand{
			URL:      url,
			Amount:   amount,
			Token:    token,
			Receiver: receiver,
			Realm:    realm,
		},
	}
}

// headerValue looks up a header case-insensitively. ProbeResponse headers
// come from arbitrary fetchers, so canonical casing is not guaranteed.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
