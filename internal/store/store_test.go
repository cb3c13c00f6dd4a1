package store

import (
	"testing"
)

func TestUpsertBaselineReplaces(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.UpsertBaseline(5, "t1", map[string]any{"v": 1.0}); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}
	if err := s.UpsertBaseline(5, "t2", map[string]any{"v": 2.0}); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}

	payload, ok := s.GetBaseline(5)
	if !ok {
		t.Fatal("expected baseline row")
	}
	if payload["v"] != 2.0 {
		t.Fatalf("expected replaced payload, got %v", payload)
	}

	if _, ok := s.GetBaseline(6); ok {
		t.Fatal("expected no baseline row for unseen slot")
	}
}

func TestFineRowsAppendOnly(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.InsertFine(1, "t", true, "peer", "self", false, 10, nil); err != nil {
			t.Fatalf("InsertFine: %v", err)
		}
	}
	batch := s.ExportBatch([]int64{1})
	if len(batch.Fine) != 3 {
		t.Fatalf("want 3 fine rows, got %d", len(batch.Fine))
	}
	for i, row := range batch.Fine {
		if row.ID != int64(i) {
			t.Fatalf("fine row %d has id %d, want monotonic ids", i, row.ID)
		}
	}
}

func TestListUnuploadedSlotsAscending(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, slot := range []int64{5, 1, 3} {
		if err := s.UpsertBaseline(slot, "t", nil); err != nil {
			t.Fatalf("UpsertBaseline: %v", err)
		}
	}
	if err := s.MarkUploaded([]int64{3}, "batch-1"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	got := s.ListUnuploadedSlots()
	want := []int64{1, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestReopenReplaysWALAndSnapshot(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.UpsertBaseline(1, "t", map[string]any{"x": 1.0}); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}
	if err := s.UpsertDetect(1, "t", true, map[string]any{"abnormal": true}); err != nil {
		t.Fatalf("UpsertDetect: %v", err)
	}
	if err := s.InsertFine(1, "t", false, "self", "self", true, 5, nil); err != nil {
		t.Fatalf("InsertFine: %v", err)
	}
	// Force a snapshot so recovery exercises the snapshot path; the write
	// after it is recorded only in the WAL.
	if err := s.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if err := s.UpsertBaseline(2, "t2", map[string]any{"x": 2.0}); err != nil {
		t.Fatalf("UpsertBaseline: %v", err)
	}
	// Close only the WAL file, as a crash would, so no final snapshot is
	// taken and slot 2 must come back through WAL replay.
	if err := s.wal.close(); err != nil {
		t.Fatalf("close wal: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, ok := reopened.GetBaseline(1); !ok {
		t.Fatal("expected slot 1 baseline to survive snapshot+reopen")
	}
	if _, ok := reopened.GetBaseline(2); !ok {
		t.Fatal("expected slot 2 baseline (WAL-only) to survive reopen")
	}
	batch := reopened.ExportBatch([]int64{1})
	if len(batch.Detect) != 1 || !batch.Detect[0].Abnormal {
		t.Fatalf("expected detect row to survive reopen, got %+v", batch.Detect)
	}
	if len(batch.Fine) != 1 {
		t.Fatalf("expected fine row to survive reopen, got %+v", batch.Fine)
	}
}

func TestMarkUploadedEmptyIsNoop(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.MarkUploaded(nil, "batch"); err != nil {
		t.Fatalf("MarkUploaded with empty slots should be a no-op: %v", err)
	}
}
