// Package reportjobs talks to the report-generation job service. Jobs are
// started here and then tracked by the status poller.
package reportjobs

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
	"github.com/animus-labs/pipeconsole/internal/repo"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("report jobs url is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}, nil
}

type startResponse struct {
	JobID string `json:"job_id"`
}

// Start submits a report request and returns the job id.
func (c *Client) Start(ctx context.Context, req domain.ReportRequest) (string, error) {
	if strings.TrimSpace(req.CompanyID) == "" {
		return "", errors.New("company id is required")
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return "", errors.New("template id is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out startResponse
	if err := c.do(httpReq, &out); err != nil {
		return "", fmt.Errorf("start report: %w", err)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", errors.New("start report: response carried no job id")
	}
	return out.JobID, nil
}

// GetStatus reads {base}/jobs/{id}. A 404 maps to repo.ErrNotFound.
func (c *Client) GetStatus(ctx context.Context, jobID string) (domain.ReportJob, error) {
	if strings.TrimSpace(jobID) == "" {
		return domain.ReportJob{}, errors.New("job id is required")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return domain.ReportJob{}, fmt.Errorf("build request: %w", err)
	}
	var job domain.ReportJob
	if err := c.do(httpReq, &job); err != nil {
		return domain.ReportJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return repo.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
