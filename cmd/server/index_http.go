package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"circuitsandbox.dev/internal/persistence/indexdb"
	"circuitsandbox.dev/internal/protocol"
)

// resumeSnapshot picks the snapshot to load at startup: the newest file in
// the snapshots directory, or the newest indexed one when that is later and
// still on disk.
func resumeSnapshot(ctx context.Context, dataDir string, idx *indexdb.SQLiteIndex) string {
	best := latestSnapshot(dataDir)
	if idx == nil {
		return best
	}
	row, ok, err := idx.LatestSnapshot(ctx)
	if err != nil || !ok {
		return best
	}
	if _, err := os.Stat(row.Path); err != nil {
		return best
	}
	if best == "" || row.Tick > snapshotTick(best) {
		return row.Path
	}
	return best
}

func snapshotTick(path string) uint64 {
	tick, _ := strconv.ParseUint(strings.TrimSuffix(filepath.Base(path), ".snap.zst"), 10, 64)
	return tick
}

// eventCountHandler serves GET /v1/events/count?type=NOTE&from=0&to=100
// from the index. to defaults to the current tick.
func eventCountHandler(idx *indexdb.SQLiteIndex, sb statusSource) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		typ := strings.ToUpper(strings.TrimSpace(q.Get("type")))
		switch typ {
		case protocol.EventNote, protocol.EventExplode, protocol.EventPiston:
		default:
			http.Error(rw, "unknown event type", http.StatusBadRequest)
			return
		}
		from, err := tickParam(q.Get("from"), 0)
		if err != nil {
			http.Error(rw, "bad from", http.StatusBadRequest)
			return
		}
		to, err := tickParam(q.Get("to"), sb.Status().Tick)
		if err != nil || to < from {
			http.Error(rw, "bad to", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		n, err := idx.CountEvents(ctx, typ, from, to)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"type": typ, "from": from, "to": to, "count": n})
	}
}

func tickParam(s string, def uint64) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
