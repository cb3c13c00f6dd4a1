// Package store is the agent's durable store: one writer, many readers,
// four tables (baseline, detect_result, fine_result, upload_mark), backed
// by an append-only write-ahead log and periodic snapshots so the process
// can crash at any point and still recover every row it had committed.
//
// This is the Go-idiomatic analogue of the original implementation's
// embedded, single-file SQLite database — a local, single-writer,
// crash-safe store with no external dependency, just built on a log
// instead of a page cache.
package store

import "time"

// BaselineRow holds the coarse estimate for one slot. At most one row per
// slot; a second write for the same slot replaces it.
type BaselineRow struct {
	Slot       int64          `json:"slot"`
	TraceID    string         `json:"trace_id"`
	CreatedTS  float64        `json:"created_ts"`
	Payload    map[string]any `json:"payload"`
}

// DetectRow holds the detect outcome for one slot. At most one row per
// slot; a second write for the same slot replaces it (though the
// orchestrator's first-sight rule means this should not happen in
// practice — see internal/orchestrator).
type DetectRow struct {
	Slot      int64          `json:"slot"`
	TraceID   string         `json:"trace_id"`
	CreatedTS float64        `json:"created_ts"`
	Abnormal  bool           `json:"abnormal"`
	Payload   map[string]any `json:"payload"`
}

// FineRow records one fine-stage execution attempt. Append-only: a slot
// may accumulate several rows (a failed remote attempt plus a local
// fallback, or retries), and that is intentional — every attempt is
// recorded, never deduplicated.
type FineRow struct {
	ID          int64          `json:"id"`
	Slot        int64          `json:"slot"`
	TraceID     string         `json:"trace_id"`
	CreatedTS   float64        `json:"created_ts"`
	Offloaded   bool           `json:"offloaded"`
	ExecutedOn  string         `json:"executed_on"`
	Origin      string         `json:"origin"`
	OK          bool           `json:"ok"`
	DurationMS  float64        `json:"duration_ms"`
	Payload     map[string]any `json:"payload"`
}

// UploadMark records that a slot's rows have been included in a shipped
// batch at least once. Presence implies upload, per spec invariant 5.
type UploadMark struct {
	Slot       int64   `json:"slot"`
	BatchID    string  `json:"batch_id"`
	UploadedTS float64 `json:"uploaded_ts"`
}

// Batch is the wire shape exported for one group of slots, matching the
// collector's /upload_batch request body.
type Batch struct {
	Slots    []int64       `json:"slots"`
	Baseline []BaselineRow `json:"baseline"`
	Detect   []DetectRow   `json:"detect"`
	Fine     []FineRow     `json:"fine"`
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
