package r2s3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"circuitsandbox.dev/internal/platform/logger"
)

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	calls int
	keys  []string
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsWithPrefixAndRetries(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "snapshots", "10.snap.zst")
	_ = os.MkdirAll(filepath.Dir(local), 0o755)
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	up := &fakeUploader{fails: 2}
	m := NewMirror(up, dir, MirrorOptions{Prefix: "/prod/", Backoff: time.Millisecond}, logger.Discard())
	m.Enqueue(local)
	m.Enqueue(filepath.Join(t.TempDir(), "outside"))
	m.Close()

	if up.calls != 3 || len(up.keys) != 1 || up.keys[0] != "prod/snapshots/10.snap.zst" {
		t.Fatalf("calls=%d keys=%v", up.calls, up.keys)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 || st.LastSuccessUnix == 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_GivesUp(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "a")
	_ = os.WriteFile(local, []byte("x"), 0o644)

	up := &fakeUploader{fails: 10}
	m := NewMirror(up, dir, MirrorOptions{Attempts: 2, Backoff: time.Millisecond}, logger.Discard())
	m.Enqueue(local)
	m.Close()

	st := m.Stats()
	if up.calls != 2 || st.UploadFailTotal != 1 || st.LastErrorUnix == 0 {
		t.Fatalf("calls=%d stats=%+v", up.calls, st)
	}
}

func TestMirror_NilIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatal("nil mirror stats")
	}
}
