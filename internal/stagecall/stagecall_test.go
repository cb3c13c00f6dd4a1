package stagecall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCallEstimateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"baseline": 1.5}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL, time.Second, time.Second)
	ok, result, _, errStr := c.CallEstimate(context.Background(), 1, "t1", map[string]any{"v": 1.0})
	if !ok {
		t.Fatalf("expected ok, got error %q", errStr)
	}
	if result["baseline"] != 1.5 {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestCallDetectNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL, time.Second, time.Second)
	ok, _, _, errStr := c.CallDetect(context.Background(), 1, "t1", nil, nil)
	if ok {
		t.Fatal("expected ok=false on 500")
	}
	if errStr == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestCallFineMalformedJSONIsWrappedAsRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL, time.Second, time.Second)
	ok, result, _, errStr := c.CallFine(context.Background(), 1, "t1", nil)
	if !ok {
		t.Fatalf("malformed 2xx body should still be ok=true, got error %q", errStr)
	}
	if result["raw"] != "not json" {
		t.Fatalf("expected raw wrapper, got %v", result)
	}
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, srv.URL, 5*time.Millisecond, 5*time.Millisecond)
	ok, _, _, errStr := c.CallEstimate(context.Background(), 1, "t1", nil)
	if ok {
		t.Fatal("expected timeout to be reported as ok=false")
	}
	if errStr == "" {
		t.Fatal("expected non-empty error string on timeout")
	}
}

func TestCallRemoteExecuteBuildsExecutePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := New("", "", "", time.Second, time.Second)
	ok, _, _, errStr := c.CallRemoteExecute(context.Background(), srv.URL+"/", 1, "t1", "node-a", nil)
	if !ok {
		t.Fatalf("expected ok, got %q", errStr)
	}
	if gotPath != "/execute" {
		t.Fatalf("expected /execute, got %q", gotPath)
	}
}
