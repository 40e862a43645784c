package signer

import (
	"testing"

	"tradingcore/pkg/types"
)

func TestSignFormDeterministic(t *testing.T) {
	t.Parallel()

	s := New(types.CredentialSet{Secret: "topsecret"})
	params := []KV{{Key: "symbol", Value: "BTCUSDT"}, {Key: "side", Value: "BUY"}}

	a, err := s.SignForm(params, 1700000000000)
	if err != nil {
		t.Fatalf("SignForm: %v", err)
	}
	b, err := s.SignForm(params, 1700000000000)
	if err != nil {
		t.Fatalf("SignForm: %v", err)
	}

	if a != b {
		t.Fatalf("signature not deterministic: %q vs %q", a, b)
	}
}

func TestSignFormRejectsMalformedValue(t *testing.T) {
	t.Parallel()

	s := New(types.CredentialSet{Secret: "k"})
	_, err := s.SignForm([]KV{{Key: "symbol", Value: "a&b"}}, 1)
	if err == nil {
		t.Fatal("expected SIGN_PAYLOAD_MALFORMED error")
	}
}

func TestSignWSParamsSortsLexicographically(t *testing.T) {
	t.Parallel()

	s := New(types.CredentialSet{Secret: "topsecret"})

	// Sign the same params listed in two different orders.
	sorted := New(types.CredentialSet{Secret: "topsecret"})
	manual, err := sorted.SignWSParams(map[string]string{
		"symbol":    "BTCUSDT",
		"side":      "BUY",
		"type":      "LIMIT",
		"quantity":  "1",
		"timestamp": "1700000000000",
		"apiKey":    "abc",
	})
	if err != nil {
		t.Fatalf("SignWSParams: %v", err)
	}

	again, err := s.SignWSParams(map[string]string{
		"timestamp": "1700000000000",
		"apiKey":    "abc",
		"side":      "BUY",
		"symbol":    "BTCUSDT",
		"type":      "LIMIT",
		"quantity":  "1",
	})
	if err != nil {
		t.Fatalf("SignWSParams: %v", err)
	}

	if manual != again {
		t.Fatalf("signature depends on map iteration order: %q vs %q", manual, again)
	}

	// Build the expected string by hand: keys sorted, values joined by &.
	want := s.digest("apiKey=abc&quantity=1&side=BUY&symbol=BTCUSDT&timestamp=1700000000000&type=LIMIT")
	if manual != want {
		t.Fatalf("signature is not over the lexicographically sorted params: %q vs %q", manual, want)
	}
}

func TestSignWSParamsSpaceBreaksSignature(t *testing.T) {
	t.Parallel()

	s := New(types.CredentialSet{Secret: "topsecret"})

	a, err := s.SignWSParams(map[string]string{"symbol": "BTCUSDT", "side": "BUY"})
	if err != nil {
		t.Fatalf("SignWSParams: %v", err)
	}
	b, err := s.SignWSParams(map[string]string{"symbol": "BTCUSDT ", "side": "BUY"})
	if err != nil {
		t.Fatalf("SignWSParams: %v", err)
	}

	if a == b {
		t.Fatal("expected adding a space to break the signature")
	}
}

func TestBase64HMACDeterministicAndSensitiveToInput(t *testing.T) {
	t.Parallel()

	s := New(types.CredentialSet{Secret: "topsecret"})

	a := s.Base64HMAC("1700000000000POST/api/v5/trade/order{}")
	b := s.Base64HMAC("1700000000000POST/api/v5/trade/order{}")
	if a != b {
		t.Fatalf("signature not deterministic: %q vs %q", a, b)
	}

	c := s.Base64HMAC("1700000000001POST/api/v5/trade/order{}")
	if a == c {
		t.Fatal("expected changing the message to change the signature")
	}
}
