package primer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPrimeSendsSymbol(t *testing.T) {
	var gotPath, gotSymbol, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotSymbol = r.URL.Query().Get("symbol")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	c := New(server.URL+"/", time.Second)
	if err := c.Prime(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("Prime failed: %v", err)
	}
	if gotMethod != http.MethodGet {
		t.Errorf("expected GET, got %s", gotMethod)
	}
	if gotPath != "/get_latest_price" {
		t.Errorf("expected /get_latest_price, got %s", gotPath)
	}
	if gotSymbol != "BTC-USDT" {
		t.Errorf("expected symbol BTC-USDT, got %q", gotSymbol)
	}
}

func TestPrimeHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid symbol format"}`))
	}))
	defer server.Close()

	c := New(server.URL, time.Second)
	if err := c.Prime(context.Background(), "???"); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}

func TestPrimeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(url, 200*time.Millisecond)
	if err := c.Prime(context.Background(), "BTCUSDT"); err == nil {
		t.Fatalf("expected error for unreachable server")
	}
}
