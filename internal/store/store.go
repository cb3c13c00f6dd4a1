package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store is the agent's durable store. Safe for concurrent use: a single
// RWMutex guards the in-memory tables, and the WAL serializes its own
// writes independently. The spec calls for "single writer recommended,
// multiple readers via WAL-style concurrency" — one process, one Store,
// many goroutines reading through it concurrently with one at a time
// mutating it is exactly that shape.
type Store struct {
	mu sync.RWMutex

	baseline map[int64]BaselineRow
	detect   map[int64]DetectRow
	fine     []FineRow
	mark     map[int64]UploadMark

	nextFineID int64

	wal      *WAL
	snapshot *SnapshotManager

	dir           string
	walEntriesNew int // entries appended since the last snapshot
}

// snapshotEvery bounds how large the WAL can grow between snapshots
// before Store takes one proactively (in addition to the explicit
// Snapshot() call an operator or the main loop may also make).
const snapshotEvery = 500

// Open creates or reopens a Store rooted at dir. On reopen it tolerates a
// pre-existing snapshot and WAL and continues appending to the WAL.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		baseline: make(map[int64]BaselineRow),
		detect:   make(map[int64]DetectRow),
		mark:     make(map[int64]UploadMark),
		snapshot: newSnapshotManager(filepath.Join(dir, "snapshot.json")),
		dir:      dir,
	}

	snap, err := s.snapshot.load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	for _, b := range snap.Baseline {
		s.baseline[b.Slot] = b
	}
	for _, d := range snap.Detect {
		s.detect[d.Slot] = d
	}
	s.fine = append(s.fine, snap.Fine...)
	for _, m := range snap.Mark {
		s.mark[m.Slot] = m
	}
	s.nextFineID = snap.NextFineID

	wal, err := newWAL(filepath.Join(dir, "wal.log"))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = wal

	entries, err := wal.readAll()
	if err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	for _, e := range entries {
		s.applyEntry(e)
	}

	return s, nil
}

// applyEntry replays one WAL entry into the in-memory tables during
// recovery. The mutating methods below do not call it; they append to the
// WAL and update the tables directly.
func (s *Store) applyEntry(e walEntry) {
	switch e.Op {
	case opUpsertBaseline:
		if e.Baseline != nil {
			s.baseline[e.Baseline.Slot] = *e.Baseline
		}
	case opUpsertDetect:
		if e.Detect != nil {
			s.detect[e.Detect.Slot] = *e.Detect
		}
	case opInsertFine:
		if e.Fine != nil {
			s.fine = append(s.fine, *e.Fine)
			if e.Fine.ID >= s.nextFineID {
				s.nextFineID = e.Fine.ID + 1
			}
		}
	case opMarkUploaded:
		if e.Mark != nil {
			s.mark[e.Mark.Slot] = *e.Mark
		}
	}
}

// UpsertBaseline writes or replaces the baseline row for slot.
func (s *Store) UpsertBaseline(slot int64, traceID string, payload map[string]any) error {
	row := BaselineRow{Slot: slot, TraceID: traceID, CreatedTS: nowSeconds(), Payload: payload}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opUpsertBaseline, Baseline: &row}); err != nil {
		return fmt.Errorf("append wal: %w", err)
	}
	s.baseline[slot] = row
	return s.maybeSnapshotLocked()
}

// GetBaseline returns the baseline payload for slot, or nil if none exists.
func (s *Store) GetBaseline(slot int64) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.baseline[slot]
	if !ok {
		return nil, false
	}
	return row.Payload, true
}

// UpsertDetect writes or replaces the detect row for slot.
func (s *Store) UpsertDetect(slot int64, traceID string, abnormal bool, payload map[string]any) error {
	row := DetectRow{Slot: slot, TraceID: traceID, CreatedTS: nowSeconds(), Abnormal: abnormal, Payload: payload}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.append(walEntry{Op: opUpsertDetect, Detect: &row}); err != nil {
		return fmt.Errorf("append wal: %w", err)
	}
	s.detect[slot] = row
	return s.maybeSnapshotLocked()
}

// InsertFine appends a new fine-result row. Never replaces an existing
// one — every execution attempt gets its own row.
func (s *Store) InsertFine(slot int64, traceID string, offloaded bool, executedOn, origin string, ok bool, durationMS float64, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := FineRow{
		ID:         s.nextFineID,
		Slot:       slot,
		TraceID:    traceID,
		CreatedTS:  nowSeconds(),
		Offloaded:  offloaded,
		ExecutedOn: executedOn,
		Origin:     origin,
		OK:         ok,
		DurationMS: durationMS,
		Payload:    payload,
	}
	s.nextFineID++

	if err := s.wal.append(walEntry{Op: opInsertFine, Fine: &row}); err != nil {
		return fmt.Errorf("append wal: %w", err)
	}
	s.fine = append(s.fine, row)
	return s.maybeSnapshotLocked()
}

// ListUnuploadedSlots returns, ascending, every slot that has a baseline
// row but no upload mark yet.
func (s *Store) ListUnuploadedSlots() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int64, 0, len(s.baseline))
	for slot := range s.baseline {
		if _, uploaded := s.mark[slot]; !uploaded {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExportBatch gathers baseline/detect/fine rows for the given slots, in
// the wire shape the collector's /upload_batch endpoint expects.
func (s *Store) ExportBatch(slots []int64) Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[int64]bool, len(slots))
	for _, sl := range slots {
		want[sl] = true
	}

	b := Batch{Slots: append([]int64(nil), slots...)}
	for _, sl := range slots {
		if row, ok := s.baseline[sl]; ok {
			b.Baseline = append(b.Baseline, row)
		}
		if row, ok := s.detect[sl]; ok {
			b.Detect = append(b.Detect, row)
		}
	}
	for _, row := range s.fine {
		if want[row.Slot] {
			b.Fine = append(b.Fine, row)
		}
	}
	sort.Slice(b.Baseline, func(i, j int) bool { return b.Baseline[i].Slot < b.Baseline[j].Slot })
	sort.Slice(b.Detect, func(i, j int) bool { return b.Detect[i].Slot < b.Detect[j].Slot })
	sort.Slice(b.Fine, func(i, j int) bool {
		if b.Fine[i].Slot != b.Fine[j].Slot {
			return b.Fine[i].Slot < b.Fine[j].Slot
		}
		return b.Fine[i].ID < b.Fine[j].ID
	})
	return b
}

// MarkUploaded records that slots were included in batchID. A no-op for
// an empty slice, so a zero-slot batch never touches the WAL.
func (s *Store) MarkUploaded(slots []int64, batchID string) error {
	if len(slots) == 0 {
		return nil
	}
	ts := nowSeconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range slots {
		mark := UploadMark{Slot: slot, BatchID: batchID, UploadedTS: ts}
		if err := s.wal.append(walEntry{Op: opMarkUploaded, Mark: &mark}); err != nil {
			return fmt.Errorf("append wal: %w", err)
		}
		s.mark[slot] = mark
	}
	return s.maybeSnapshotLocked()
}

// maybeSnapshotLocked takes a snapshot and truncates the WAL once enough
// entries have accumulated. Caller must hold s.mu.
func (s *Store) maybeSnapshotLocked() error {
	s.walEntriesNew++
	if s.walEntriesNew < snapshotEvery {
		return nil
	}
	return s.snapshotLocked()
}

// Snapshot forces an immediate snapshot and WAL truncation. Safe to call
// from the main loop on a timer or at shutdown.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() error {
	data := snapshotData{
		Baseline:   mapValues(s.baseline),
		Detect:     mapValues(s.detect),
		Fine:       append([]FineRow(nil), s.fine...),
		Mark:       mapValues(s.mark),
		NextFineID: s.nextFineID,
	}
	if err := s.snapshot.save(data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.wal.truncate(); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	s.walEntriesNew = 0
	return nil
}

// Close takes a final snapshot and closes the WAL file.
func (s *Store) Close() error {
	if err := s.Snapshot(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.close()
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
