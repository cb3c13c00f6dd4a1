package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"edge-agent/internal/store"
)

type fakeSignal struct {
	ch chan struct{}
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{ch: make(chan struct{}, 1)}
}

func (f *fakeSignal) UploadEvent() <-chan struct{} { return f.ch }

func (f *fakeSignal) fire() {
	select {
	case f.ch <- struct{}{}:
	default:
	}
}

func closeSlots(t *testing.T, st *store.Store, n int) {
	t.Helper()
	for i := int64(0); i < int64(n); i++ {
		if err := st.UpsertBaseline(i, "t", map[string]any{"v": i}); err != nil {
			t.Fatalf("UpsertBaseline(%d): %v", i, err)
		}
	}
}

func TestUploaderShipsOneBatchPerWake(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	closeSlots(t, st, 7)

	sig := newFakeSignal()
	u := New("node-1", "pi", st, sig, srv.URL, time.Second, time.Hour, 3)

	u.tick(context.Background())
	remaining := st.ListUnuploadedSlots()
	if len(remaining) != 4 {
		t.Fatalf("after one tick expected 4 unuploaded slots, got %d: %v", len(remaining), remaining)
	}
	if got := atomic.LoadInt32(&received); got != 1 {
		t.Fatalf("expected exactly one POST, got %d", got)
	}

	u.tick(context.Background())
	remaining = st.ListUnuploadedSlots()
	if len(remaining) != 1 {
		t.Fatalf("after two ticks expected 1 unuploaded slot, got %d: %v", len(remaining), remaining)
	}

	u.tick(context.Background())
	if got := atomic.LoadInt32(&received); got != 2 {
		t.Fatalf("a short batch (1 < uploadEvery 3) must not ship, got %d POSTs", got)
	}
}

func TestUploaderReplayIsIdempotent(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	closeSlots(t, st, 3)

	sig := newFakeSignal()
	u := New("node-1", "pi", st, sig, srv.URL, time.Second, time.Hour, 3)
	u.tick(context.Background())
	if got := atomic.LoadInt32(&received); got != 1 {
		t.Fatalf("expected one POST, got %d", got)
	}

	u.tick(context.Background())
	if got := atomic.LoadInt32(&received); got != 1 {
		t.Fatalf("re-running with no new slots must not ship again, got %d POSTs", got)
	}
}

func TestUploaderDoesNotMarkOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	closeSlots(t, st, 3)

	sig := newFakeSignal()
	u := New("node-1", "pi", st, sig, srv.URL, time.Second, time.Hour, 3)
	u.tick(context.Background())

	remaining := st.ListUnuploadedSlots()
	if len(remaining) != 3 {
		t.Fatalf("a failed upload must not mark any slots, got %d remaining", len(remaining))
	}
}
