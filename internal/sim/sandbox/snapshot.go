package sandbox

import (
	"encoding/json"
	"fmt"

	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/sim/grid"
)

// ExportSnapshot captures the state the next tick will read.
func (s *Sandbox) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			Tick:    s.tick.Load(),
			Digest:  grid.Digest(s.grid),
			Applied: len(s.recorded),
		},
		DayTime:            s.settings.DayTime,
		TNTDestructive:     s.settings.TNTDestructive,
		Paused:             s.paused,
		ButtonHoldTicks:    s.cfg.ButtonHoldTicks,
		SnapshotEveryTicks: s.cfg.SnapshotEveryTicks,
		Grid:               s.grid.Document(),
	}
	coords := make([]grid.Coord, 0, len(s.releases))
	for c := range s.releases {
		coords = append(coords, c)
	}
	grid.SortCoords(coords)
	for _, c := range coords {
		snap.Releases = append(snap.Releases, snapshot.ReleaseV1{Pos: posArr(c), Tick: s.releases[c]})
	}
	if len(s.recorded) > 0 {
		if b, err := json.Marshal(s.recorded); err == nil {
			snap.Pending = b
		}
	}
	return snap
}

// ImportSnapshot restores a sandbox that is not running yet.
func (s *Sandbox) ImportSnapshot(snap snapshot.SnapshotV1) error {
	g, err := grid.FromDocument(snap.Grid)
	if err != nil {
		return fmt.Errorf("snapshot grid: %w", err)
	}
	if snap.Header.Digest != "" && grid.Digest(g) != snap.Header.Digest {
		return fmt.Errorf("snapshot digest mismatch at tick %d", snap.Header.Tick)
	}
	var pending []RecordedCommand
	if len(snap.Pending) > 0 {
		if err := json.Unmarshal(snap.Pending, &pending); err != nil {
			return fmt.Errorf("snapshot pending edits: %w", err)
		}
	}
	s.grid = g
	s.cfg.GridSize = g.Size
	s.settings = grid.Settings{DayTime: snap.DayTime % grid.DayLength, TNTDestructive: snap.TNTDestructive}
	s.paused = snap.Paused
	if snap.ButtonHoldTicks > 0 {
		s.cfg.ButtonHoldTicks = snap.ButtonHoldTicks
	}
	clear(s.releases)
	for _, r := range snap.Releases {
		s.releases[posOf(r.Pos)] = r.Tick
	}
	s.recorded = pending
	s.tick.Store(snap.Header.Tick)
	s.publishStatus(0)
	return nil
}
