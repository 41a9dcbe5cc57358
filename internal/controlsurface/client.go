// Package controlsurface invokes the external endpoint that acts on
// executions. It reports only success or failure; the resulting state change
// is observed later through the change feed or reconciliation.
package controlsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/animus-labs/pipeconsole/internal/domain"
)

type Action struct {
	ExecutionID string
	Type        domain.InterventionType
	TargetStage string
	RequestID   string
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("control surface url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

type applyRequest struct {
	Action      string `json:"action"`
	TargetStage string `json:"target_stage,omitempty"`
}

// Apply posts the action to {base}/executions/{id}/actions. Any non-2xx
// response is an error carrying the status and a bounded body excerpt.
func (c *Client) Apply(ctx context.Context, action Action) error {
	if strings.TrimSpace(action.ExecutionID) == "" {
		return errors.New("execution id is required")
	}
	body, err := json.Marshal(applyRequest{Action: string(action.Type), TargetStage: action.TargetStage})
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	endpoint := c.baseURL + "/executions/" + url.PathEscape(action.ExecutionID) + "/actions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if action.RequestID != "" {
		req.Header.Set("X-Request-Id", action.RequestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post action: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StatusError is a rejection by the control surface.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("control surface returned %d", e.StatusCode)
	}
	return fmt.Sprintf("control surface returned %d: %s", e.StatusCode, e.Body)
}
