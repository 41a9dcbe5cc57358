package controlsurface

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

func TestApplyPostsAction(t *testing.T) {
	var (
		gotPath string
		gotBody applyRequest
		gotRID  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotRID = r.Header.Get("X-Request-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Apply(context.Background(), Action{
		ExecutionID: "E1",
		Type:        domain.InterventionRetryStage,
		TargetStage: "security-scan",
		RequestID:   "rid-1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if gotPath != "/executions/E1/actions" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotBody.Action != "retry_stage" || gotBody.TargetStage != "security-scan" || gotRID != "rid-1" {
		t.Fatalf("body=%+v rid=%q", gotBody, gotRID)
	}
}

func TestApplyReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stage not failed", http.StatusConflict)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, srv.Client())
	err := c.Apply(context.Background(), Action{ExecutionID: "E1", Type: domain.InterventionPause})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusConflict || statusErr.Body != "stage not failed" {
		t.Fatalf("err=%v", err)
	}
}

func TestApplyTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := New(url, nil)
	if err := c.Apply(context.Background(), Action{ExecutionID: "E1", Type: domain.InterventionCancel}); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New("  ", nil); err == nil {
		t.Fatalf("expected error")
	}
}
