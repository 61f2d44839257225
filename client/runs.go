package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned when the server has no matching run.
var ErrNotFound = errors.New("not found")

// Run is one recorded smoke check as served by the hip API.
type Run struct {
	ID          int64     `json:"id"`
	Program     string    `json:"program"`
	Instruction string    `json:"instruction"`
	Cluster     string    `json:"cluster"`
	ProgramID   string    `json:"program_id,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	Status      string    `json:"status"` // success, failed
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Slot        int64     `json:"slot"`
	DurationMS  int64     `json:"duration_ms"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Succeeded reports whether the run landed and confirmed its transaction.
func (r *Run) Succeeded() bool {
	return r.Status == "success"
}

// ListOptions filters and paginates ListRuns. Zero values use server defaults.
type ListOptions struct {
	Program string
	Limit   int
	Offset  int
}

// Client is the HTTP client for the hip run history service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new run history client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListRuns returns recorded runs, newest first.
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error) {
	q := url.Values{}
	if opts.Program != "" {
		q.Set("program", opts.Program)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/api/v1/runs"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var resp struct {
		Runs []*Run `json:"runs"`
	}
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("runs listed", "program", opts.Program, "count", len(resp.Runs))
	return resp.Runs, nil
}

// GetRun retrieves a run by ID.
func (c *Client) GetRun(ctx context.Context, id int64) (*Run, error) {
	u := fmt.Sprintf("%s/api/v1/runs/%d", c.baseURL, id)
	var run Run
	if err := c.get(ctx, u, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun retrieves the newest run of a program. An empty program means
// the server default.
func (c *Client) LatestRun(ctx context.Context, program string) (*Run, error) {
	u := c.baseURL + "/api/v1/runs/latest"
	if program != "" {
		u += "?program=" + url.QueryEscape(program)
	}
	var run Run
	if err := c.get(ctx, u, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunStats summarises the outcomes recorded for one program.
type RunStats struct {
	Program     string  `json:"program"`
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// RunStats retrieves outcome counts for a program. An empty program means
// the server default.
func (c *Client) RunStats(ctx context.Context, program string) (*RunStats, error) {
	u := c.baseURL + "/api/v1/runs/stats"
	if program != "" {
		u += "?program=" + url.QueryEscape(program)
	}
	var stats RunStats
	if err := c.get(ctx, u, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CreateSchedule asks the server to check a program on an interval.
func (c *Client) CreateSchedule(ctx context.Context, program, instruction string, interval time.Duration) error {
	body, err := json.Marshal(map[string]string{
		"program":     program,
		"instruction": instruction,
		"interval":    interval.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/schedules", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("schedule created", "program", program, "interval", interval)
	return nil
}

// DeleteSchedule asks the server to stop checking a program.
func (c *Client) DeleteSchedule(ctx context.Context, program, instruction string) error {
	u := fmt.Sprintf("%s/api/v1/schedules/%s", c.baseURL, url.PathEscape(program))
	if instruction != "" {
		u += "?instruction=" + url.QueryEscape(instruction)
	}
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("schedule deleted", "program", program)
	return nil
}

func (c *Client) get(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
