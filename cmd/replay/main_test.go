package main

import (
	"errors"
	"testing"
	"time"

	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/sandbox"
)

type capture struct{ entries []sandbox.TickLogEntry }

func (c *capture) WriteTick(e sandbox.TickLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func place(kind grid.Kind, x, y int) protocol.CmdMsg {
	return protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, Op: protocol.OpPlace, Pos: [2]int{x, y}, Kind: string(kind), Facing: string(grid.East)}
}

func newSandbox() *sandbox.Sandbox {
	return sandbox.New(sandbox.Config{GridSize: 12, TickInterval: time.Millisecond, StartDayTime: 600, TNTDestructive: true, ButtonHoldTicks: 4}, logger.Discard())
}

// record runs a live sandbox and takes a snapshot midway with edits pending.
func record(t *testing.T) (*capture, snapshot.SnapshotV1) {
	t.Helper()
	live := newSandbox()
	log := &capture{}
	live.SetTickLogger(log)

	apply := func(c protocol.CmdMsg) {
		if err := live.Apply("s1", c); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	apply(place(grid.Button, 0, 0))
	apply(place(grid.Repeater, 1, 0))
	apply(place(grid.Lamp, 2, 0))
	apply(protocol.CmdMsg{Op: protocol.OpToggle, Pos: [2]int{0, 0}})

	var snap snapshot.SnapshotV1
	for i := 0; i < 12; i++ {
		if i == 5 {
			apply(place(grid.Piston, 5, 5))
			snap = live.ExportSnapshot()
		}
		if _, _, err := live.StepOnce(nil); err != nil {
			t.Fatal(err)
		}
	}
	return log, snap
}

func TestReplay_FromGenesis(t *testing.T) {
	log, _ := record(t)
	r := &replayer{sb: newSandbox()}
	for _, e := range log.entries {
		if err := r.step(e); err != nil {
			t.Fatalf("tick %d: %v", e.Tick, err)
		}
	}
	if r.checked != uint64(len(log.entries)) {
		t.Fatalf("checked=%d", r.checked)
	}
}

func TestReplay_FromSnapshotSkipsAppliedEdits(t *testing.T) {
	log, snap := record(t)
	if snap.Header.Tick != 5 || snap.Header.Applied != 1 {
		t.Fatalf("snapshot header=%+v", snap.Header)
	}

	sb := newSandbox()
	if err := sb.ImportSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	r := &replayer{sb: sb, startTick: 5, verifyFrom: 5, skip: snap.Header.Applied}
	for _, e := range log.entries {
		if err := r.step(e); err != nil {
			t.Fatalf("tick %d: %v", e.Tick, err)
		}
	}
	if r.checked != 7 {
		t.Fatalf("checked=%d", r.checked)
	}
}

func TestReplay_DetectsTamperedDigest(t *testing.T) {
	log, _ := record(t)
	log.entries[3].Digest = "bogus"
	r := &replayer{sb: newSandbox()}
	var err error
	for _, e := range log.entries {
		if err = r.step(e); err != nil {
			break
		}
	}
	if err == nil || r.checked != 4 {
		t.Fatalf("err=%v checked=%d", err, r.checked)
	}
}

func TestReplay_StopsAtToTick(t *testing.T) {
	log, _ := record(t)
	r := &replayer{sb: newSandbox(), toTick: 2}
	var err error
	for _, e := range log.entries {
		if err = r.step(e); err != nil {
			break
		}
	}
	if !errors.Is(err, errDone) || r.checked != 3 {
		t.Fatalf("err=%v checked=%d", err, r.checked)
	}
}
