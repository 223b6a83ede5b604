package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "circuitsandbox.dev/internal/persistence/log"
	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/sim/sandbox"
	"circuitsandbox.dev/internal/sim/tuning"
)

var errDone = errors.New("done")

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (optional; empty replays from tick 0)")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		tuningPath = flag.String("tuning", "", "tuning.yaml used for a replay from tick 0 (optional)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *eventsDir == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "need -snapshot and/or -events")
		os.Exit(2)
	}

	sb, applied, err := load(*snapPath, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *eventsDir == "" {
		return
	}

	files, err := persistlog.OpenJournal(*eventsDir, "events").Segments()
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	r := &replayer{
		sb:         sb,
		startTick:  sb.CurrentTick(),
		verifyFrom: *fromTick,
		toTick:     *toTick,
		skip:       applied,
	}
	if r.verifyFrom < r.startTick {
		r.verifyFrom = r.startTick
	}
	for _, path := range files {
		err := persistlog.ReadTicks(path, r.step)
		if errors.Is(err, errDone) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d)\n", r.checked, r.startTick)
}

// load builds the sandbox the log is replayed into and reports how many
// commands of the first logged tick the snapshot already holds.
func load(snapPath, tuningPath string) (*sandbox.Sandbox, int, error) {
	if snapPath == "" {
		tune := tuning.Defaults()
		if tuningPath != "" {
			t, err := tuning.Load(tuningPath)
			if err != nil {
				return nil, 0, fmt.Errorf("load tuning: %w", err)
			}
			tune = t
		}
		fmt.Printf("fresh sandbox size=%d day_time=%d\n", tune.GridSize, tune.StartDayTime)
		return sandbox.New(sandbox.ConfigFromTuning(tune), logger.Discard()), 0, nil
	}

	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot: %w", err)
	}
	fmt.Printf("snapshot v%d tick=%d size=%d tiles=%d day_time=%d paused=%v applied=%d digest=%s\n",
		snap.Header.Version, snap.Header.Tick, snap.Grid.Size, len(snap.Grid.Tiles),
		snap.DayTime, snap.Paused, snap.Header.Applied, snap.Header.Digest)

	sb := sandbox.New(sandbox.Config{
		GridSize:        snap.Grid.Size,
		StartDayTime:    snap.DayTime,
		TNTDestructive:  snap.TNTDestructive,
		ButtonHoldTicks: snap.ButtonHoldTicks,
	}, logger.Discard())
	if err := sb.ImportSnapshot(snap); err != nil {
		return nil, 0, fmt.Errorf("import snapshot: %w", err)
	}
	return sb, snap.Header.Applied, nil
}

type replayer struct {
	sb         *sandbox.Sandbox
	startTick  uint64
	verifyFrom uint64
	toTick     uint64
	skip       int
	checked    uint64
}

func (r *replayer) step(entry sandbox.TickLogEntry) error {
	if entry.Tick < r.startTick {
		return nil
	}
	if r.toTick != 0 && entry.Tick > r.toTick {
		return errDone
	}
	if entry.Tick != r.sb.CurrentTick() {
		return fmt.Errorf("tick mismatch: want=%d got=%d", r.sb.CurrentTick(), entry.Tick)
	}

	cmds := entry.Commands
	if entry.Tick == r.startTick && r.skip > 0 {
		if r.skip > len(cmds) {
			return fmt.Errorf("tick %d logs %d commands, snapshot holds %d", entry.Tick, len(cmds), r.skip)
		}
		cmds = cmds[r.skip:]
	}

	tick, gotDigest, err := r.sb.StepOnce(cmds)
	if err != nil {
		return fmt.Errorf("tick %d: %w", entry.Tick, err)
	}
	if tick >= r.verifyFrom {
		r.checked++
		if gotDigest != entry.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
		}
	}
	return nil
}
