// Package uploader ships closed slots to the collector in deduplicated
// batches. One goroutine races the orchestrator's upload_event signal
// against a timer, assembles a batch of exactly uploadEvery slots, and
// marks them uploaded only once the collector accepts the POST.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"edge-agent/internal/metrics"
	"edge-agent/internal/store"
)

// Signal is the subset of Orchestrator the uploader needs: a channel that
// fires whenever a slot closes.
type Signal interface {
	UploadEvent() <-chan struct{}
}

// Uploader owns the batching loop.
type Uploader struct {
	nodeID   string
	nodeType string

	store  *store.Store
	signal Signal
	client *http.Client

	collectorURL string
	checkEvery   time.Duration
	uploadEvery  int
}

// batchPayload is the wire shape POSTed to <collector>/upload_batch.
type batchPayload struct {
	BatchID  string              `json:"batch_id"`
	SentTS   float64             `json:"sent_ts"`
	NodeID   string              `json:"node_id"`
	NodeType string              `json:"node_type"`
	Slots    []int64             `json:"slots"`
	Baseline []store.BaselineRow `json:"baseline"`
	Detect   []store.DetectRow   `json:"detect"`
	Fine     []store.FineRow     `json:"fine"`
}

// New builds an Uploader. checkEvery bounds how long the loop waits
// between wakes when upload_event never fires; uploadEvery is the batch
// size threshold.
func New(nodeID, nodeType string, st *store.Store, signal Signal, collectorURL string, httpTimeout time.Duration, checkEvery time.Duration, uploadEvery int) *Uploader {
	return &Uploader{
		nodeID:       nodeID,
		nodeType:     nodeType,
		store:        st,
		signal:       signal,
		client:       &http.Client{Timeout: httpTimeout},
		collectorURL: collectorURL,
		checkEvery:   checkEvery,
		uploadEvery:  uploadEvery,
	}
}

// Run loops until ctx is cancelled, waking on whichever of upload_event or
// the check timer fires first.
func (u *Uploader) Run(ctx context.Context) {
	ticker := time.NewTicker(u.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.signal.UploadEvent():
		case <-ticker.C:
		}
		u.tick(ctx)
	}
}

// tick ships at most one batch per wake, per spec: if fewer than
// uploadEvery slots are waiting, it does nothing and waits for the next
// wake rather than shipping a short batch.
func (u *Uploader) tick(ctx context.Context) {
	slots := u.store.ListUnuploadedSlots()
	if len(slots) < u.uploadEvery {
		return
	}
	u.shipBatch(ctx, slots[:u.uploadEvery])
}

func (u *Uploader) shipBatch(ctx context.Context, slots []int64) bool {
	exported := u.store.ExportBatch(slots)
	batchID := uuid.NewString()

	payload := batchPayload{
		BatchID:  batchID,
		SentTS:   float64(time.Now().UnixNano()) / 1e9,
		NodeID:   u.nodeID,
		NodeType: u.nodeType,
		Slots:    exported.Slots,
		Baseline: exported.Baseline,
		Detect:   exported.Detect,
		Fine:     exported.Fine,
	}

	if err := u.post(ctx, payload); err != nil {
		metrics.UploadFailures.Inc()
		log.Printf("uploader: batch %s for slots %v: %v", batchID, slots, err)
		return false
	}

	if err := u.store.MarkUploaded(slots, batchID); err != nil {
		log.Printf("uploader: mark uploaded for batch %s: %v", batchID, err)
		return false
	}
	metrics.UploadBatches.Inc()
	return true
}

func (u *Uploader) post(ctx context.Context, payload batchPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.collectorURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("collector returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
