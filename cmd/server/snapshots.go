package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"circuitsandbox.dev/internal/persistence/archive"
	"circuitsandbox.dev/internal/persistence/indexdb"
	"circuitsandbox.dev/internal/persistence/r2s3"
	"circuitsandbox.dev/internal/persistence/snapshot"
)

func snapshotPath(dataDir string, tick uint64) string {
	return filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
}

type snapshotSinks struct {
	idx    *indexdb.SQLiteIndex
	mirror *r2s3.Mirror
}

// runSnapshotWriter persists snapshots off the sandbox goroutine until ctx
// ends, then drains whatever is still queued. keep > 0 archives all but the
// newest keep snapshots after each write.
func runSnapshotWriter(ctx context.Context, in <-chan snapshot.SnapshotV1, dataDir string, keep int, sinks snapshotSinks, log logrus.FieldLogger) {
	write := func(snap snapshot.SnapshotV1) {
		path := snapshotPath(dataDir, snap.Header.Tick)
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			log.WithError(err).WithField("tick", snap.Header.Tick).Error("snapshot write")
			return
		}
		var size int64
		if fi, err := os.Stat(path); err == nil {
			size = fi.Size()
		}
		log.WithFields(logrus.Fields{
			"tick":  snap.Header.Tick,
			"tiles": len(snap.Grid.Tiles),
			"size":  humanize.Bytes(uint64(size)),
		}).Info("snapshot written")
		if sinks.idx != nil {
			sinks.idx.RecordSnapshot(path, size, snap)
		}
		sinks.mirror.Enqueue(path)
		moved, err := archive.Retain(dataDir, keep, nil)
		if err != nil {
			log.WithError(err).Warn("snapshot archive")
		}
		for _, p := range moved {
			log.WithField("path", p).Debug("snapshot archived")
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-in:
					write(snap)
				default:
					return
				}
			}
		case snap := <-in:
			write(snap)
		}
	}
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
