package payflow

import (
	"strings"
	"testing"
)

func TestParseProbeResponse_WWWAuthenticate(t *testing.T) {
	resp := &ProbeResponse{
		StatusCode: 402,
		Headers: map[string]string{
			"WWW-Authenticate": `x402 amount="0.10", token="USDC", receiver="0xabc123", realm="Premium article"`,
		},
	}

	result := ParseProbeResponse("https://example.com/article", resp)
	if !result.RequiresPayment {
		t.Fatal("expected requires_payment to be true")
	}
	if result.Demand == nil {
		t.Fatalf("expected a demand, got error %q", result.Err)
	}
	if result.Demand.Amount != "0.10" {
		t.Errorf("amount = %q, want %q", result.Demand.Amount, "0.10")
	}
	if result.Demand.Token != "USDC" {
		t.Errorf("token = %q, want %q", result.Demand.Token, "USDC")
	}
	if result.Demand.Receiver != "0xabc123" {
		t.Errorf("receiver = %q, want %q", result.Demand.Receiver, "0xabc123")
	}
	if result.Demand.Realm != "Premium article" {
		t.Errorf("realm = %q, want %q", result.Demand.Realm, "Premium article")
	}
	if result.Demand.URL != "https://example.com/article" {
		t.Errorf("url = %q, want the probed url", result.Demand.URL)
	}
}

func TestParseProbeResponse_Defaults(t *testing.T) {
	resp := &ProbeResponse{
		StatusCode: 402,
		Headers: map[string]string{
			"WWW-Authenticate": `x402 amount=1.50, receiver=0xdef`,
		},
	}

	result := ParseProbeResponse("https://example.com", resp)
	if result.Demand == nil {
		t.Fatalf("expected a demand, got error %q", result.Err)
	}
	if result.Demand.Token != "USDC" {
		t.Errorf("token = %q, want default USDC", result.Demand.Token)
	}
	if result.Demand.Realm != "Access to resource" {
		t.Errorf("realm = %q, want default realm", result.Demand.Realm)
	}
}

func TestParseProbeResponse_SecondaryHeaders(t *testing.T) {
	resp := &ProbeResponse{
		StatusCode: 402,
		Headers: map[string]string{
			"Payment-Amount": "amount=2.00 currency=ETH",
			"Accept-Payment": "scheme=exact; address=0xfeed42; network=base",
		},
	}

	result := ParseProbeResponse("https://example.com", resp)
	if result.Demand == nil {
		t.Fatalf("expected a demand, got error %q", result.Err)
	}
	if result.Demand.Amount != "2.00" {
		t.Errorf("amount = %q, want %q", result.Demand.Amount, "2.00")
	}
	if result.Demand.Token != "ETH" {
		t.Errorf("token = %q, want %q", result.Demand.Token, "ETH")
	}
	if result.Demand.Receiver != "0xfeed42" {
		t.Errorf("receiver = %q, want %q", result.Demand.Receiver, "0xfeed42")
	}
}

func TestParseProbeResponse_PrimaryHeaderWins(t *testing.T) {
	// Subsequent sources only fill fields the primary header left empty.
	resp := &ProbeResponse{
		StatusCode: 402,
		Headers: map[string]string{
			"WWW-Authenticate": `x402 amount=0.25, receiver=0xprimary`,
			"Payment-Amount":   "amount=9.99 currency=DAI",
			"Accept-Payment":   "address=0xsecondary",
		},
	}

	result := ParseProbeResponse("https://example.com", resp)
	if result.Demand == nil {
		t.Fatalf("expected a demand, got error %q", result.Err)
	}
	if result.Demand.Amount != "0.25" {
		t.Errorf("amount = %q, want the primary header's 0.25", result.Demand.Amount)
	}
	if result.Demand.Receiver != "0xprimary" {
		t.Errorf("receiver = %q, want the primary header's value", result.Demand.Receiver)
	}
}

func TestParseProbeResponse_JSONBodyFallback(t *testing.T) {
	resp := &ProbeResponse{
		StatusCode: 402,
		Body:       []byte(`{"amount":"5.00","address":"0xbody","token":"DAI"}`),
	}

	result := ParseProbeResponse("https://example.com", resp)
	if result.Demand == nil {
		t.Fatalf("expected a demand, got error %q", result.Err)
	}
	if result.Demand.Amount != "5.00" {
		t.Errorf("amount = %q, want %q", result.Demand.Amount, "5.00")
	}
	if result.Demand.Receiver != "0xbody" {
		t.Errorf("receiver = %q, want the body's address", result.Demand.Receiver)
	}
}

func TestParseProbeResponse_UnparseableDemand(t *testing.T) {
	resp := &ProbeResponse{
		StatusCode: 402,
		Headers:    map[string]string{"Content-Type": "text/html"},
		Body:       []byte("<html>payment required</html>"),
	}

	result := ParseProbeResponse("https://example.com", resp)
	if !result.RequiresPayment {
		t.Error("a 402 should still report requires_payment")
	}
	if result.Demand != nil {
		t.Error("expected no demand from an unparseable 402")
	}
	if result.Err == "" {
		t.Error("expected a parse error")
	}
}

func TestParseProbeResponse_FreeResource(t *testing.T) {
	body := strings.Repeat("a", maxContentSnapshot+500)
	resp := &ProbeResponse{StatusCode: 200, Body: []byte(body)}

	result := ParseProbeResponse("https://example.com", resp)
	if result.RequiresPayment {
		t.Error("a 200 never requires payment")
	}
	if len(result.Content) != maxContentSnapshot {
		t.Errorf("content length = %d, want bounded to %d", len(result.Content), maxContentSnapshot)
	}
}

func TestParseProbeResponse_OtherStatus(t *testing.T) {
	resp := &ProbeResponse{StatusCode: 503}

	result := ParseProbeResponse("https://example.com", resp)
	if result.RequiresPayment {
		t.Error("a non-402 failure never requires payment")
	}
	if result.Err != "request failed with status 503" {
		t.Errorf("error = %q, want status message", result.Err)
	}
}

func TestParseProbeResponse_CaseInsensitiveHeaders(t *testing.T) {
	resp := &ProbeResponse{
		StatusCode: 402,
		Headers: map[string]string{
			"www-authenticate": `x402 amount=0.05, receiver=0xlower`,
		},
	}

	result := ParseProbeResponse("https://example.com", resp)
	if result.Demand == nil {
		t.Fatalf("expected header lookup to be case-insensitive, got error %q", result.Err)
	}
}
