package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"circuitsandbox.dev/internal/persistence/indexdb"
	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/sandbox"
)

func reopenIndex(t *testing.T, path string, fill func(*indexdb.SQLiteIndex)) *indexdb.SQLiteIndex {
	t.Helper()
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fill(idx)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx, err = indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResumeSnapshot_PrefersNewerIndexedFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, snapshotPath(dir, 100))
	restored := filepath.Join(dir, "restored", "500.snap.zst")
	touch(t, restored)

	idx := reopenIndex(t, filepath.Join(dir, "index.sqlite"), func(idx *indexdb.SQLiteIndex) {
		idx.RecordSnapshot(restored, 1, snapshot.SnapshotV1{Header: snapshot.Header{Tick: 500}})
	})
	if got := resumeSnapshot(context.Background(), dir, idx); got != restored {
		t.Fatalf("resume=%q want %q", got, restored)
	}
	if got := resumeSnapshot(context.Background(), dir, nil); got != snapshotPath(dir, 100) {
		t.Fatalf("no index: resume=%q", got)
	}
}

func TestResumeSnapshot_IgnoresMissingOrOlderRows(t *testing.T) {
	dir := t.TempDir()
	touch(t, snapshotPath(dir, 300))
	older := filepath.Join(dir, "restored", "200.snap.zst")
	touch(t, older)

	cases := []struct {
		name string
		path string
		tick uint64
	}{
		{"missing file", filepath.Join(dir, "gone", "900.snap.zst"), 900},
		{"older tick", older, 200},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx := reopenIndex(t, filepath.Join(dir, "index", tc.name+".sqlite"), func(idx *indexdb.SQLiteIndex) {
				idx.RecordSnapshot(tc.path, 1, snapshot.SnapshotV1{Header: snapshot.Header{Tick: tc.tick}})
			})
			if got := resumeSnapshot(context.Background(), dir, idx); got != snapshotPath(dir, 300) {
				t.Fatalf("case %d: resume=%q", i, got)
			}
		})
	}
}

func TestEventCountHandler(t *testing.T) {
	dir := t.TempDir()
	idx := reopenIndex(t, filepath.Join(dir, "index.sqlite"), func(idx *indexdb.SQLiteIndex) {
		for tick := uint64(1); tick <= 4; tick++ {
			_ = idx.WriteTick(sandbox.TickLogEntry{Tick: tick, Events: []protocol.Event{
				{Type: protocol.EventNote, Pos: [2]int{1, 1}},
			}})
		}
		_ = idx.WriteTick(sandbox.TickLogEntry{Tick: 5, Events: []protocol.Event{
			{Type: protocol.EventExplode, Pos: [2]int{2, 2}},
		}})
	})
	sb := sandbox.New(sandbox.Config{GridSize: 8}, logger.Discard())
	h := eventCountHandler(idx, sb)

	get := func(query string) (int, map[string]any) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/v1/events/count?"+query, nil))
		var body map[string]any
		if rec.Code == http.StatusOK {
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode %q: %v", query, err)
			}
		}
		return rec.Code, body
	}

	tests := []struct {
		query string
		code  int
		count float64
	}{
		{"type=NOTE&from=0&to=10", http.StatusOK, 4},
		{"type=note&from=2&to=3", http.StatusOK, 2},
		{"type=EXPLODE&from=0&to=10", http.StatusOK, 1},
		{"type=PISTON&from=0&to=10", http.StatusOK, 0},
		{"type=BOGUS", http.StatusBadRequest, 0},
		{"type=NOTE&from=x", http.StatusBadRequest, 0},
		{"type=NOTE&from=5&to=2", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		code, body := get(tc.query)
		if code != tc.code {
			t.Fatalf("%q: code=%d want %d", tc.query, code, tc.code)
		}
		if code == http.StatusOK && body["count"].(float64) != tc.count {
			t.Fatalf("%q: count=%v want %v", tc.query, body["count"], tc.count)
		}
	}

	// to defaults to the current tick, which is 0 on a fresh sandbox.
	if _, body := get("type=NOTE"); body["count"].(float64) != 0 {
		t.Fatalf("default range count=%v", body["count"])
	}
}
