package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"muxd/internal/config"
	"muxd/internal/queue"
)

// apiClient talks to a running daemon over its HTTP API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(cfg *config.Config) *apiClient {
	return &apiClient{
		baseURL: "http://" + cfg.Paths.APIBind,
		apiKey:  cfg.Paths.APIKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type submitRequest struct {
	VideoURL   string        `json:"video_url"`
	AudioURLs  []string      `json:"audio_urls"`
	WebhookURL string        `json:"webhook_url,omitempty"`
	ID         string        `json:"id,omitempty"`
	Options    submitOptions `json:"options"`
}

type submitOptions struct {
	Mode   string `json:"mode,omitempty"`
	Format string `json:"format,omitempty"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// jobView mirrors the daemon's job JSON representation.
type jobView struct {
	JobID           string             `json:"job_id"`
	Status          string             `json:"status"`
	Inputs          []queue.InputRef   `json:"inputs"`
	Options         queue.MergeOptions `json:"options"`
	ResultURL       string             `json:"result_url"`
	ErrorKind       string             `json:"error_kind"`
	ErrorMessage    string             `json:"error_message"`
	ProgressStage   string             `json:"progress_stage"`
	ProgressPercent float64            `json:"progress_percent"`
	Attempts        int                `json:"attempts"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func (c *apiClient) submit(req submitRequest) (submitResponse, error) {
	var resp submitResponse
	err := c.do(http.MethodPost, "/v1/video/merge-audio", req, &resp)
	return resp, err
}

func (c *apiClient) jobStatus(id string) (jobView, error) {
	var view jobView
	err := c.do(http.MethodGet, "/v1/jobs/"+id, nil, &view)
	return view, err
}

func (c *apiClient) cancelJob(id string) (jobView, error) {
	var view jobView
	err := c.do(http.MethodDelete, "/v1/jobs/"+id, nil, &view)
	return view, err
}

type healthView struct {
	Status     string `json:"status"`
	Workers    bool   `json:"workers_running"`
	Total      int    `json:"total"`
	Queued     int    `json:"queued"`
	Processing int    `json:"processing"`
	Done       int    `json:"done"`
	Failed     int    `json:"failed"`
}

func (c *apiClient) health() (healthView, error) {
	var view healthView
	err := c.do(http.MethodGet, "/healthz", nil, &view)
	return view, err
}

func (c *apiClient) listQueue(statuses string) ([]jobView, error) {
	path := "/v1/queue"
	if statuses = strings.TrimSpace(statuses); statuses != "" {
		path += "?status=" + statuses
	}
	var resp struct {
		Jobs []jobView `json:"jobs"`
	}
	err := c.do(http.MethodGet, path, nil, &resp)
	return resp.Jobs, err
}

func (c *apiClient) do(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w (is `muxd serve` running?)", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
