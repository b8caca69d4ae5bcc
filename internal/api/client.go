package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/queuectl/queuectl/internal/job"
	"github.com/queuectl/queuectl/internal/queue"
	"github.com/queuectl/queuectl/internal/worker"
)

// Client talks to the HTTP API of a running worker daemon.
// Its methods mirror queue.Service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for addr, which is either a host:port
// or a base URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Enqueue(ctx context.Context, req queue.EnqueueRequest) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) Get(ctx context.Context, id string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// List supports at most one state filter, like the HTTP endpoint.
func (c *Client) List(ctx context.Context, states ...job.State) ([]*job.Job, error) {
	if len(states) > 1 {
		return nil, fmt.Errorf("%w: only one state filter is supported remotely", job.ErrInvalidState)
	}
	path := "/api/jobs"
	if len(states) == 1 {
		path += "?state=" + url.QueryEscape(string(states[0]))
	}
	var resp JobsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) DeadLetters(ctx context.Context) ([]*job.Job, error) {
	var resp JobsResponse
	if err := c.do(ctx, http.MethodGet, "/api/dlq", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) RequeueFromDead(ctx context.Context, id string) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/api/dlq/"+url.PathEscape(id)+"/retry", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) Stats(ctx context.Context) (map[job.State]int, error) {
	resp, err := c.FullStats(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// FullStats returns job counts together with worker counts.
func (c *Client) FullStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Workers(ctx context.Context) ([]worker.Stats, error) {
	var resp WorkersResponse
	if err := c.do(ctx, http.MethodGet, "/api/workers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &errResp) != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
