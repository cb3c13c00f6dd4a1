// Package orchestrator implements the slot state machine: it shards
// incoming events into slots, keeps the three computation stages ordered
// and at-most-once per slot, and chooses where to run the fine stage.
//
// A single goroutine (the "worker") consumes the ingest queue, which
// makes slot advancement and first-sight detect deterministic without any
// locking in the hot path — the only shared mutable state (active slot,
// caches, EWMAs, in-flight counter) is guarded by one mutex held only
// across small critical sections, never across an HTTP call.
package orchestrator

import (
	"context"
	"log"
	"sync"

	"edge-agent/internal/metrics"
	"edge-agent/internal/peers"
	"edge-agent/internal/stagecall"
	"edge-agent/internal/store"
)

// QueueCapacity is the bounded ingest queue size. On overflow Enqueue
// returns false, which the HTTP layer turns into a 429.
const QueueCapacity = 2000

// CachePruneHorizon bounds how many slots behind the active slot the
// in-memory caches are kept. Arbitrary per spec, but fixed at 50.
const CachePruneHorizon = 50

// IngestItem is the ephemeral unit of work placed on the ingest queue. It
// is never persisted — only its effects (baseline/detect/fine rows) are.
type IngestItem struct {
	Slot      int64
	EventTime float64
	TraceID   string
	Payload   map[string]any
}

// HealthSnapshot is what GET /health reports about this node's own state.
type HealthSnapshot struct {
	ActiveSlot int64
	HasActive  bool
	QueueLen   int
	InFlight   int
	AvgMS      map[string]float64
}

// Orchestrator is the slot state machine plus the ingest worker loop.
type Orchestrator struct {
	nodeID string

	store  *store.Store
	caller *stagecall.Caller
	peers  *peers.Monitor

	queue chan IngestItem

	mu                sync.Mutex
	activeSlot        int64
	hasActive         bool
	slotPayloadCache  map[int64]map[string]any
	detectDoneForSlot map[int64]bool
	inFlight          int
	ewma              map[string]*peers.EWMA

	// uploadEvent is an edge-triggered one-shot signal: a buffered
	// channel of capacity 1 plays the role of asyncio.Event.set()/wait()/
	// clear() — a send that would block (channel already has a pending
	// signal) is simply dropped, since one pending wakeup is as good as
	// two.
	uploadEvent chan struct{}
}

// New constructs an Orchestrator. The peers Monitor and stagecall Caller
// must already be wired; Orchestrator only calls them, it does not own
// their lifecycle.
func New(nodeID string, st *store.Store, caller *stagecall.Caller, pm *peers.Monitor) *Orchestrator {
	return &Orchestrator{
		nodeID:            nodeID,
		store:             st,
		caller:            caller,
		peers:             pm,
		queue:             make(chan IngestItem, QueueCapacity),
		slotPayloadCache:  make(map[int64]map[string]any),
		detectDoneForSlot: make(map[int64]bool),
		ewma: map[string]*peers.EWMA{
			"estimate":    peers.NewEWMA(0.2),
			"detect":      peers.NewEWMA(0.2),
			"fine":        peers.NewEWMA(0.2),
			"fine_remote": peers.NewEWMA(0.2),
		},
		uploadEvent: make(chan struct{}, 1),
	}
}

// UploadEvent exposes the upload-wake channel so the uploader can select
// on it. Receiving from it is the "wait" half of the edge-triggered
// signal; the uploader is responsible for treating a receive as a level
// reset (nothing further to clear — the channel is already drained).
func (o *Orchestrator) UploadEvent() <-chan struct{} {
	return o.uploadEvent
}

func (o *Orchestrator) signalUpload() {
	select {
	case o.uploadEvent <- struct{}{}:
	default:
	}
}

// QueueLen returns the number of ingest items currently buffered.
func (o *Orchestrator) QueueLen() int {
	return len(o.queue)
}

// Enqueue places item on the ingest queue. Returns false if the queue is
// full — the caller (the HTTP handler) turns that into a 429.
func (o *Orchestrator) Enqueue(item IngestItem) bool {
	select {
	case o.queue <- item:
		metrics.QueueDepth.Set(float64(len(o.queue)))
		return true
	default:
		return false
	}
}

// Run drains the ingest queue on a single goroutine until ctx is
// cancelled. This is "the worker loop": the one place slot advancement
// and first-sight detect happen, so they need no additional locking
// against each other.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-o.queue:
			metrics.QueueDepth.Set(float64(len(o.queue)))
			o.processIngestItem(ctx, item)
		}
	}
}

func (o *Orchestrator) processIngestItem(ctx context.Context, item IngestItem) {
	defer func() {
		if r := recover(); r != nil {
			// Swallow to keep the worker alive; the item is lost but the
			// agent stays up, per spec's error-handling policy for the
			// worker loop.
			log.Printf("orchestrator: recovered from panic processing slot %d: %v", item.Slot, r)
		}
	}()

	if flush, _ := item.Payload["__flush__"].(bool); flush {
		o.advance(ctx, item.Slot)
		return
	}

	o.advance(ctx, item.Slot)

	o.mu.Lock()
	o.slotPayloadCache[item.Slot] = item.Payload
	first := !o.detectDoneForSlot[item.Slot]
	if first {
		o.detectDoneForSlot[item.Slot] = true
	}
	o.mu.Unlock()

	if first {
		o.runDetectAndMaybeFine(ctx, item.Slot, item.TraceID, item.Payload)
	}
}

// advance closes every intermediate slot between the current active slot
// and newSlot by running estimate on whatever payload was cached for it,
// then moves active_slot forward. Slots with no cached payload are left
// with a hole — no baseline row is ever synthesized for them.
func (o *Orchestrator) advance(ctx context.Context, newSlot int64) {
	o.mu.Lock()
	if !o.hasActive {
		o.activeSlot = newSlot
		o.hasActive = true
		o.mu.Unlock()
		return
	}
	active := o.activeSlot
	if newSlot <= active {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	for s := active; s < newSlot; s++ {
		o.mu.Lock()
		cached, ok := o.slotPayloadCache[s]
		o.mu.Unlock()
		if !ok {
			continue
		}
		o.runEstimate(ctx, s, cached)
		o.signalUpload()
	}

	o.mu.Lock()
	o.activeSlot = newSlot
	horizon := newSlot - CachePruneHorizon
	for slot := range o.slotPayloadCache {
		if slot < horizon {
			delete(o.slotPayloadCache, slot)
		}
	}
	for slot := range o.detectDoneForSlot {
		if slot < horizon {
			delete(o.detectDoneForSlot, slot)
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) runEstimate(ctx context.Context, slot int64, payload map[string]any) {
	o.bumpInFlight(1)
	traceID := estimateTraceID(slot)
	ok, result, durationMS, errStr := o.caller.CallEstimate(ctx, slot, traceID, payload)
	o.bumpInFlight(-1)
	o.updateEWMA("estimate", durationMS)

	stored := result
	if !ok {
		stored = map[string]any{"error": errStr, "result": result}
	}
	if err := o.store.UpsertBaseline(slot, traceID, stored); err != nil {
		log.Printf("orchestrator: upsert baseline for slot %d: %v", slot, err)
	}
}

func (o *Orchestrator) runDetectAndMaybeFine(ctx context.Context, slot int64, traceID string, payload map[string]any) {
	baseline, _ := o.store.GetBaseline(slot - 1)

	o.bumpInFlight(1)
	ok, result, durationMS, errStr := o.caller.CallDetect(ctx, slot, traceID, payload, baseline)
	o.bumpInFlight(-1)
	o.updateEWMA("detect", durationMS)

	abnormal := false
	stored := result
	if ok {
		abnormal, _ = result["abnormal"].(bool)
	} else {
		stored = map[string]any{"error": errStr, "result": result}
	}

	if err := o.store.UpsertDetect(slot, traceID, abnormal, stored); err != nil {
		log.Printf("orchestrator: upsert detect for slot %d: %v", slot, err)
	}

	if abnormal {
		o.fineWithOffload(ctx, slot, traceID, payload)
	}
}

// fineWithOffload implements the fine dispatch algorithm from spec §4.E:
// snapshot peers, pick a target, try remote, fall back local on failure
// or absence of an eligible peer. Every attempt is persisted, even when
// it fails.
func (o *Orchestrator) fineWithOffload(ctx context.Context, slot int64, traceID string, payload map[string]any) {
	if o.peers != nil {
		snapshot := o.peers.Snapshot()
		target := PickTargetForFine(snapshot)
		if target != "" {
			o.bumpInFlight(1)
			ok, result, durationMS, errStr := o.caller.CallRemoteExecute(ctx, target, slot, traceID, o.nodeID, payload)
			o.bumpInFlight(-1)
			o.updateEWMA("fine_remote", durationMS)

			if ok {
				metrics.FineOutcomes.WithLabelValues("remote", "ok").Inc()
				if err := o.store.InsertFine(slot, traceID, true, target, o.nodeID, true, durationMS, result); err != nil {
					log.Printf("orchestrator: insert fine (remote ok) for slot %d: %v", slot, err)
				}
				return
			}

			metrics.FineOutcomes.WithLabelValues("remote", "failed").Inc()
			if err := o.store.InsertFine(slot, traceID, true, target, o.nodeID, false, durationMS,
				map[string]any{"error": errStr, "result": result}); err != nil {
				log.Printf("orchestrator: insert fine (remote failed) for slot %d: %v", slot, err)
			}
		}
	}

	o.bumpInFlight(1)
	ok, result, durationMS, errStr := o.caller.CallFine(ctx, slot, traceID, payload)
	o.bumpInFlight(-1)
	o.updateEWMA("fine", durationMS)

	stored := result
	resultLabel := "ok"
	if !ok {
		stored = map[string]any{"error": errStr, "result": result}
		resultLabel = "failed"
	}
	metrics.FineOutcomes.WithLabelValues("local", resultLabel).Inc()
	if err := o.store.InsertFine(slot, traceID, false, o.nodeID, o.nodeID, ok, durationMS, stored); err != nil {
		log.Printf("orchestrator: insert fine (local) for slot %d: %v", slot, err)
	}
}

// ExecuteRemoteFine is the server side of peer offload: another agent's
// orchestrator has POSTed /execute to us. Runs the local fine stage and
// records a FineRow for this (slot, origin) pair before returning the
// result to the caller.
func (o *Orchestrator) ExecuteRemoteFine(ctx context.Context, slot int64, traceID, origin string, payload map[string]any) (ok bool, result map[string]any, durationMS float64, errStr string) {
	o.bumpInFlight(1)
	ok, result, durationMS, errStr = o.caller.CallFine(ctx, slot, traceID, payload)
	o.bumpInFlight(-1)
	o.updateEWMA("fine", durationMS)

	stored := result
	if !ok {
		stored = map[string]any{"error": errStr, "result": result}
	}
	if err := o.store.InsertFine(slot, traceID, true, o.nodeID, origin, ok, durationMS, stored); err != nil {
		log.Printf("orchestrator: insert fine (executed for %s) on slot %d: %v", origin, slot, err)
	}
	return ok, result, durationMS, errStr
}

func (o *Orchestrator) bumpInFlight(delta int) {
	o.mu.Lock()
	o.inFlight += delta
	current := o.inFlight
	o.mu.Unlock()
	metrics.InFlight.Set(float64(current))
}

func (o *Orchestrator) updateEWMA(stage string, sampleMS float64) {
	o.mu.Lock()
	e, ok := o.ewma[stage]
	var value float64
	if ok {
		value = e.Update(sampleMS)
	}
	o.mu.Unlock()
	if ok {
		metrics.StageEWMAMillis.WithLabelValues(stage).Set(value)
	}
}

// Health returns a point-in-time snapshot of this node's own runtime
// state, for GET /health.
func (o *Orchestrator) Health() HealthSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	avg := make(map[string]float64, len(o.ewma))
	for stage, e := range o.ewma {
		avg[stage] = e.Value()
	}
	return HealthSnapshot{
		ActiveSlot: o.activeSlot,
		HasActive:  o.hasActive,
		QueueLen:   len(o.queue),
		InFlight:   o.inFlight,
		AvgMS:      avg,
	}
}

func estimateTraceID(slot int64) string {
	return "est-" + itoa(slot)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
