package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradingcore/pkg/errs"
)

func TestDoReturnsParsedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/ping"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != `{"result":"ok"}` {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.LatencyNS <= 0 {
		t.Error("expected positive LatencyNS")
	}
}

func TestDoMapsVenueErrorEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"code":-1021,"msg":"Timestamp outside recvWindow"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/order"})
	if err == nil {
		t.Fatal("expected a VenueError")
	}
	venueErr, ok := err.(*errs.VenueError)
	if !ok {
		t.Fatalf("expected *errs.VenueError, got %T: %v", err, err)
	}
	if venueErr.VenueCode != -1021 {
		t.Errorf("VenueCode = %d, want -1021", venueErr.VenueCode)
	}
}

func TestDoRejectsBadProxyURL(t *testing.T) {
	t.Parallel()

	_, err := New("https://example.invalid", "://not-a-url")
	if err == nil {
		t.Fatal("expected an error for a malformed proxy URL")
	}
}
