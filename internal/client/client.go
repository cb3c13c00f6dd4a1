// Package client is a small typed SDK for talking to one Edge Agent node,
// mirroring the teacher's internal/client split: typed helpers here, a raw
// escape hatch in raw.go.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to exactly one agent. It does not know about peers or the
// collector — those are the agent's own concern.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. baseURL example: "http://localhost:8080".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// IngestResponse is returned by a successful /ingest call.
type IngestResponse struct {
	Accepted bool   `json:"accepted"`
	Slot     int64  `json:"slot"`
	TraceID  string `json:"trace_id"`
	QueueLen int    `json:"queue_len"`
}

// Ingest posts one event to the agent.
func (c *Client) Ingest(ctx context.Context, payload map[string]any, traceID string, eventTime *float64) (*IngestResponse, error) {
	body := map[string]any{"payload": payload}
	if traceID != "" {
		body["trace_id"] = traceID
	}
	if eventTime != nil {
		body["event_time"] = *eventTime
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ingest body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ingest", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result IngestResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Flush sends the __flush__ sentinel at eventTime, forcing the agent to
// close out its final open slot.
func (c *Client) Flush(ctx context.Context, eventTime float64) (*IngestResponse, error) {
	return c.Ingest(ctx, map[string]any{"__flush__": true}, "", &eventTime)
}

// HealthResponse is what GET /health reports.
type HealthResponse struct {
	NodeID     string             `json:"node_id"`
	NodeType   string             `json:"node_type"`
	StartedTS  float64            `json:"started_ts"`
	ActiveSlot int64              `json:"active_slot"`
	QueueLen   int                `json:"queue_len"`
	InFlight   int                `json:"in_flight"`
	AvgMS      map[string]float64 `json:"avg_ms"`
	Peers      map[string]any     `json:"peers"`
}

// Health fetches the agent's own health snapshot.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result HealthResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// APIError carries the HTTP status and message from a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
