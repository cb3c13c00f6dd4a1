// Package stagecall wraps calls to the three computation microservices
// (estimate, detect, fine) and to a peer's /execute endpoint behind one
// uniform POST-JSON-get-JSON contract.
//
// Stage callers never return a Go error upward: every failure mode —
// timeout, connection refused, non-2xx, malformed response body — is
// folded into the (ok, result, durationMs, errStr) tuple the rest of the
// agent is built around. Retry policy belongs to the caller, not here.
package stagecall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Caller holds the HTTP client and per-call-kind endpoints/timeouts.
type Caller struct {
	client *http.Client

	estURL  string
	detURL  string
	fineURL string

	httpTimeout    time.Duration
	executeTimeout time.Duration
}

// New builds a Caller. httpTimeout bounds calls to the local estimate/
// detect/fine services; executeTimeout (typically larger) bounds remote
// peer /execute calls.
func New(estURL, detURL, fineURL string, httpTimeout, executeTimeout time.Duration) *Caller {
	return &Caller{
		client:         &http.Client{},
		estURL:         estURL,
		detURL:         detURL,
		fineURL:        fineURL,
		httpTimeout:    httpTimeout,
		executeTimeout: executeTimeout,
	}
}

// CallEstimate invokes the local estimate microservice for slot.
func (c *Caller) CallEstimate(ctx context.Context, slot int64, traceID string, payload map[string]any) (bool, map[string]any, float64, string) {
	body := map[string]any{"slot": slot, "trace_id": traceID, "payload": payload}
	return c.post(ctx, c.estURL, body, c.httpTimeout)
}

// CallDetect invokes the local detect microservice for slot, including
// the previous slot's baseline (which may be nil) per the data model.
func (c *Caller) CallDetect(ctx context.Context, slot int64, traceID string, payload, baseline map[string]any) (bool, map[string]any, float64, string) {
	body := map[string]any{"slot": slot, "trace_id": traceID, "payload": payload, "baseline": baseline}
	return c.post(ctx, c.detURL, body, c.httpTimeout)
}

// CallFine invokes the local fine microservice for slot.
func (c *Caller) CallFine(ctx context.Context, slot int64, traceID string, payload map[string]any) (bool, map[string]any, float64, string) {
	body := map[string]any{"slot": slot, "trace_id": traceID, "payload": payload}
	return c.post(ctx, c.fineURL, body, c.httpTimeout)
}

// CallRemoteExecute invokes a peer's /execute endpoint to offload the fine
// stage, using the (typically larger) executeTimeout.
func (c *Caller) CallRemoteExecute(ctx context.Context, peerURL string, slot int64, traceID, origin string, payload map[string]any) (bool, map[string]any, float64, string) {
	url := trimTrailingSlash(peerURL) + "/execute"
	body := map[string]any{
		"stage":    "fine",
		"slot":     slot,
		"trace_id": traceID,
		"payload":  payload,
		"origin":   origin,
	}
	return c.post(ctx, url, body, c.executeTimeout)
}

// post issues the POST and normalizes every outcome into the uniform
// (ok, result, durationMs, errStr) contract. A non-JSON 2xx body is
// wrapped as {"raw": "<text>"} and still reported ok=true, per spec.
func (c *Caller) post(ctx context.Context, url string, body map[string]any, timeout time.Duration) (bool, map[string]any, float64, string) {
	start := time.Now()

	data, err := json.Marshal(body)
	if err != nil {
		return false, nil, msSince(start), err.Error()
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return false, nil, msSince(start), err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, nil, msSince(start), err.Error()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, nil, msSince(start), err.Error()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil, msSince(start), fmt.Sprintf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return true, map[string]any{"raw": string(respBody)}, msSince(start), ""
	}
	return true, result, msSince(start), ""
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
