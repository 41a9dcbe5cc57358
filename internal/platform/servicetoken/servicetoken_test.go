package servicetoken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewHTTPClientAddsBearerToken(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if user, pass, ok := r.BasicAuth(); !ok || user != "console" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	cfg := Config{TokenURL: tokenSrv.URL, ClientID: "console", ClientSecret: "s3cret", Timeout: time.Second}
	client := NewHTTPClient(context.Background(), cfg, nil)
	for i := 0; i < 2; i++ {
		resp, err := client.Get(api.URL)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
	}

	if gotAuth != "Bearer tok-1" {
		t.Fatalf("Authorization=%q", gotAuth)
	}
	if tokenCalls.Load() != 1 {
		t.Fatalf("token fetched %d times, want cached", tokenCalls.Load())
	}
}

func TestNewHTTPClientWithoutTokenURL(t *testing.T) {
	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer api.Close()

	client := NewHTTPClient(context.Background(), Config{Timeout: time.Second}, nil)
	resp, err := client.Get(api.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "" {
		t.Fatalf("unexpected Authorization %q", gotAuth)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	cfg := Config{TokenURL: "http://idp/token", Timeout: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error without client credentials")
	}
}
