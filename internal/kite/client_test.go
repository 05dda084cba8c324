package kite

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientProfile(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/profile" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-Kite-Version")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"user_id":"AB1234","user_name":"Demo User","email":"demo@example.com","broker":"ZERODHA"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "demo_key", "demo_token")
	profile, err := c.Profile(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if profile.UserID != "AB1234" || profile.UserName != "Demo User" {
		t.Fatalf("profile mismatch: %+v", profile)
	}
	if gotAuth != "token demo_key:demo_token" {
		t.Fatalf("authorization header mismatch: %q", gotAuth)
	}
	if gotVersion != "3" {
		t.Fatalf("version header mismatch: %q", gotVersion)
	}
}

func TestClientErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"error","message":"Incorrect api_key or access_token.","error_type":"TokenException"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "demo_key", "stale_token")
	_, err := c.Profile(context.Background())
	if err == nil {
		t.Fatalf("expected error for rejected token")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("status mismatch: %d", apiErr.StatusCode)
	}
	if apiErr.ErrorType != "TokenException" {
		t.Fatalf("error type mismatch: %q", apiErr.ErrorType)
	}
}

func TestClientNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := newTestClient(srv, "demo_key", "demo_token")
	_, err := c.Holdings(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("status mismatch: %d", apiErr.StatusCode)
	}
}

func TestClientHoldings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/portfolio/holdings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":[{"tradingsymbol":"INFY","exchange":"NSE","quantity":10,"average_price":1500.5,"last_price":1510.25,"pnl":97.5}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "demo_key", "demo_token")
	holdings, err := c.Holdings(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(holdings))
	}
	if holdings[0].TradingSymbol != "INFY" || holdings[0].Quantity != 10 {
		t.Fatalf("holding mismatch: %+v", holdings[0])
	}
}

func TestClientExchangeRequestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session/token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("unexpected authorization header before session: %q", auth)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("api_key"); got != "demo_key" {
			t.Errorf("api_key mismatch: %q", got)
		}
		if got := r.PostForm.Get("request_token"); got != "req_token_123" {
			t.Errorf("request_token mismatch: %q", got)
		}
		want := "d2571af293628564fbeeeb9d8c4543a99337d2327b9241f8204cbaaf2b3d4137"
		if got := r.PostForm.Get("checksum"); got != want {
			t.Errorf("checksum mismatch: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"access_token":"fresh_token","public_token":"pub_token","user_id":"AB1234"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "demo_key", "")
	session, err := c.ExchangeRequestToken(context.Background(), "demo_secret", "req_token_123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.AccessToken != "fresh_token" || session.UserID != "AB1234" {
		t.Fatalf("session mismatch: %+v", session)
	}
}

func TestClientInstrumentsCSV(t *testing.T) {
	csv := "instrument_token,tradingsymbol\n256265,NIFTY 50\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instruments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(csv))
	}))
	defer srv.Close()

	c := newTestClient(srv, "demo_key", "demo_token")
	body, err := c.InstrumentsCSV(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != csv {
		t.Fatalf("csv mismatch: %q", string(body))
	}
}

func newTestClient(srv *httptest.Server, apiKey, accessToken string) *Client {
	c := NewClient(apiKey, accessToken)
	c.BaseURL = srv.URL
	c.HTTP = srv.Client()
	return c
}
