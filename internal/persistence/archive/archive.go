// Package archive moves old snapshots out of the live snapshots directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"circuitsandbox.dev/internal/persistence/snapshot"
)

type Meta struct {
	Tick       uint64 `json:"tick"`
	Digest     string `json:"digest"`
	Snapshot   string `json:"snapshot"`
	Bytes      int64  `json:"bytes"`
	ArchivedAt string `json:"archived_at"`
}

// Retain keeps the newest keep tick snapshots under dataDir/snapshots and
// moves the rest to dataDir/archives/tick_<N>/ next to a meta.json. Rollback
// snapshots are left alone. It returns the archived paths, oldest first.
func Retain(dataDir string, keep int, now func() time.Time) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	if now == nil {
		now = time.Now
	}
	snaps, err := tickSnapshots(filepath.Join(dataDir, "snapshots"))
	if err != nil || len(snaps) <= keep {
		return nil, err
	}

	var out []string
	for _, src := range snaps[:len(snaps)-keep] {
		dst, err := archiveOne(dataDir, src, now())
		if err != nil {
			return out, err
		}
		out = append(out, dst)
	}
	return out, nil
}

func archiveOne(dataDir, src string, at time.Time) (string, error) {
	h, err := snapshot.ReadHeader(src)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", filepath.Base(src), err)
	}
	dir := filepath.Join(dataDir, "archives", fmt.Sprintf("tick_%d", h.Tick))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	n, err := copyFile(src, dst)
	if err != nil {
		return "", err
	}

	meta := Meta{
		Tick:       h.Tick,
		Digest:     h.Digest,
		Snapshot:   filepath.Base(dst),
		Bytes:      n,
		ArchivedAt: at.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return dst, os.Remove(src)
}

func tickSnapshots(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type entry struct {
		tick uint64
		path string
	}
	var found []entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, entry{tick, filepath.Join(dir, name)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].tick < found[j].tick })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.path
	}
	return out, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Close()
}
