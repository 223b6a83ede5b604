package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
)

type captureTicks struct{ entries []TickLogEntry }

func (c *captureTicks) WriteTick(e TickLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

type captureAudit struct{ entries []AuditEntry }

func (c *captureAudit) WriteAudit(e AuditEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func testConfig() Config {
	return Config{
		GridSize:        16,
		TickInterval:    2 * time.Millisecond,
		StartDayTime:    600,
		TNTDestructive:  true,
		ButtonHoldTicks: 3,
	}
}

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	return New(testConfig(), logger.Discard())
}

func cmdAt(op string, x, y int) protocol.CmdMsg {
	return protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, Op: op, Pos: [2]int{x, y}}
}

func placeCmd(kind grid.Kind, x, y int, facing grid.Facing) protocol.CmdMsg {
	c := cmdAt(protocol.OpPlace, x, y)
	c.Kind = string(kind)
	c.Facing = string(facing)
	return c
}

func mustApply(t *testing.T, s *Sandbox, cmds ...protocol.CmdMsg) {
	t.Helper()
	for _, c := range cmds {
		if err := s.Apply("test", c); err != nil {
			t.Fatalf("apply %s %v: %v", c.Op, c.Pos, err)
		}
	}
}

func mustStep(t *testing.T, s *Sandbox) string {
	t.Helper()
	_, digest, err := s.StepOnce(nil)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return digest
}

func TestApply_RejectsBadCommands(t *testing.T) {
	s := newTestSandbox(t)
	setTime := cmdAt(protocol.OpSetTime, 0, 0)
	move := cmdAt(protocol.OpMove, 1, 1)

	cases := []struct {
		name string
		cmd  protocol.CmdMsg
		want error
	}{
		{"toggle empty", cmdAt(protocol.OpToggle, 1, 1), grid.ErrEmpty},
		{"place outside", placeCmd(grid.Dust, 16, 0, grid.North), grid.ErrOutOfBounds},
		{"place unknown", placeCmd("CHEESE", 1, 1, grid.North), grid.ErrUnknownKind},
		{"step on nothing", cmdAt(protocol.OpStepOn, 2, 2), grid.ErrEmpty},
		{"set time without value", setTime, ErrBadCommand},
		{"move without target", move, ErrBadCommand},
		{"unknown op", cmdAt("LAUNCH", 0, 0), ErrUnknownOp},
	}
	for _, tc := range cases {
		err := s.Apply("test", tc.cmd)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}
	if s.grid.Len() != 0 || len(s.recorded) != 0 {
		t.Fatalf("rejected commands must leave no trace")
	}
}

func TestApply_Edits(t *testing.T) {
	s := newTestSandbox(t)
	audit := &captureAudit{}
	s.SetAuditLogger(audit)

	to := [2]int{4, 4}
	move := cmdAt(protocol.OpMove, 1, 1)
	move.To = &to
	mustApply(t, s,
		placeCmd(grid.Repeater, 1, 1, grid.East),
		cmdAt(protocol.OpCycleDelay, 1, 1),
		cmdAt(protocol.OpRotate, 1, 1),
		move,
		placeCmd(grid.PressurePlate, 2, 2, ""),
		cmdAt(protocol.OpStepOn, 2, 2),
	)

	rep, ok := s.grid.Get(grid.Coord{X: 4, Y: 4})
	if !ok || rep.Kind != grid.Repeater || rep.Delay != 2 || rep.Facing != grid.South {
		t.Fatalf("repeater=%+v", rep)
	}
	if plate, _ := s.grid.Get(grid.Coord{X: 2, Y: 2}); !plate.Active || plate.Facing != grid.North {
		t.Fatalf("plate=%+v", plate)
	}
	if len(audit.entries) != 6 || audit.entries[0].To != grid.Repeater || audit.entries[0].From != grid.Air {
		t.Fatalf("audit=%+v", audit.entries)
	}

	mustApply(t, s, cmdAt(protocol.OpDelete, 4, 4), cmdAt(protocol.OpClear, 0, 0))
	if s.grid.Len() != 0 {
		t.Fatalf("clear should empty the grid")
	}
}

func TestSettingsCommandsAndDayClock(t *testing.T) {
	s := newTestSandbox(t)
	day := grid.DayLength - 1
	off := false
	setTime := cmdAt(protocol.OpSetTime, 0, 0)
	setTime.DayTime = &day
	setTNT := cmdAt(protocol.OpSetTNT, 0, 0)
	setTNT.Enabled = &off
	mustApply(t, s, setTime, setTNT)

	ticks := &captureTicks{}
	s.SetTickLogger(ticks)
	mustStep(t, s)
	if got := s.Settings(); got.DayTime != 0 || got.TNTDestructive {
		t.Fatalf("settings after wrap: %+v", got)
	}
	if e := ticks.entries[0]; e.Settings.DayTime != day || len(e.Commands) != 2 {
		t.Fatalf("entry should carry the settings it ran with: %+v", e)
	}
	mustStep(t, s)
	if s.Settings().DayTime != 1 {
		t.Fatalf("day clock should advance once per tick")
	}
}

func TestButtonAutoRelease(t *testing.T) {
	s := newTestSandbox(t)
	mustApply(t, s, placeCmd(grid.Button, 1, 1, grid.North), placeCmd(grid.Dust, 2, 1, grid.North))
	mustApply(t, s, cmdAt(protocol.OpToggle, 1, 1))

	for tick := 0; tick < 3; tick++ {
		mustStep(t, s)
		if b, _ := s.grid.Get(grid.Coord{X: 1, Y: 1}); !b.Active || b.Power != grid.MaxPower {
			t.Fatalf("tick %d: button should still be held: %+v", tick, b)
		}
	}
	mustStep(t, s)
	if b, _ := s.grid.Get(grid.Coord{X: 1, Y: 1}); b.Active || b.Power != 0 {
		t.Fatalf("button should release after the hold: %+v", b)
	}
	if s.grid.PowerAt(grid.Coord{X: 2, Y: 1}) != 0 {
		t.Fatalf("dust should go dark with the button")
	}
	if len(s.releases) != 0 {
		t.Fatalf("release schedule should be empty")
	}
}

func TestTickLog_ReplaysToSameDigests(t *testing.T) {
	live := newTestSandbox(t)
	ticks := &captureTicks{}
	live.SetTickLogger(ticks)

	mustApply(t, live,
		placeCmd(grid.Lever, 0, 5, grid.North),
		placeCmd(grid.StickyPiston, 1, 5, grid.East),
		placeCmd(grid.Slime, 2, 5, grid.North),
		placeCmd(grid.Block, 2, 4, grid.North),
		placeCmd(grid.Counter, 8, 8, grid.North),
		placeCmd(grid.Dust, 9, 8, grid.North),
		placeCmd(grid.Water, 12, 0, grid.North),
	)
	for i := 0; i < 30; i++ {
		switch i {
		case 3, 9, 15:
			mustApply(t, live, cmdAt(protocol.OpToggle, 0, 5))
		case 20:
			_ = live.Apply("test", cmdAt(protocol.OpToggle, 15, 15)) // rejected, not recorded
		}
		mustStep(t, live)
	}

	replay := newTestSandbox(t)
	for _, e := range ticks.entries {
		tick, digest, err := replay.StepOnce(e.Commands)
		if err != nil {
			t.Fatalf("tick %d: %v", e.Tick, err)
		}
		if tick != e.Tick || digest != e.Digest {
			t.Fatalf("tick %d: replay digest %s want %s", e.Tick, digest, e.Digest)
		}
	}
}

func TestStepOnce_EmitsEvents(t *testing.T) {
	s := newTestSandbox(t)
	ticks := &captureTicks{}
	s.SetTickLogger(ticks)

	mustApply(t, s,
		placeCmd(grid.NoteBlock, 3, 3, grid.North),
		cmdAt(protocol.OpToggle, 3, 3),
		cmdAt(protocol.OpToggle, 3, 3),
		placeCmd(grid.Lever, 2, 3, grid.North),
		placeCmd(grid.Piston, 3, 4, grid.East),
		cmdAt(protocol.OpToggle, 2, 3),
	)
	mustStep(t, s)

	// The lever at 2,3 only touches the note block; the piston stays idle.
	var sawNote bool
	for _, ev := range ticks.entries[0].Events {
		if ev.Type == protocol.EventNote && ev.Pos == [2]int{3, 3} && ev.Pitch == 2 {
			sawNote = true
		}
	}
	if !sawNote {
		t.Fatalf("events=%+v", ticks.entries[0].Events)
	}

	mustApply(t, s, placeCmd(grid.Lever, 2, 4, grid.North), cmdAt(protocol.OpToggle, 2, 4))
	mustStep(t, s)
	want := protocol.Event{Type: protocol.EventPiston, Pos: [2]int{3, 4}, Action: protocol.PistonExtend}
	if evs := ticks.entries[1].Events; len(evs) != 1 || evs[0] != want {
		t.Fatalf("extend events=%+v", evs)
	}

	mustApply(t, s, cmdAt(protocol.OpToggle, 2, 4))
	mustStep(t, s)
	want.Action = protocol.PistonRetract
	if evs := ticks.entries[2].Events; len(evs) != 1 || evs[0] != want {
		t.Fatalf("retract events=%+v", evs)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestSandbox(t)
	mustApply(t, s, placeCmd(grid.Button, 1, 1, grid.North), cmdAt(protocol.OpToggle, 1, 1))
	mustStep(t, s)
	mustApply(t, s, placeCmd(grid.Lamp, 5, 5, grid.North), cmdAt(protocol.OpPause, 0, 0))

	snap := s.ExportSnapshot()
	if snap.Header.Tick != 1 || snap.Header.Applied != 1 || len(snap.Releases) != 1 || !snap.Paused {
		t.Fatalf("snapshot=%+v", snap.Header)
	}

	restored := newTestSandbox(t)
	if err := restored.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if restored.CurrentTick() != 1 || grid.Digest(restored.grid) != snap.Header.Digest {
		t.Fatalf("restored state differs")
	}
	if len(restored.recorded) != 1 || restored.releases[grid.Coord{X: 1, Y: 1}] != 3 {
		t.Fatalf("pending edits or releases lost: %+v %+v", restored.recorded, restored.releases)
	}

	bad := snap
	bad.Header.Digest = "0000"
	if err := newTestSandbox(t).ImportSnapshot(bad); err == nil {
		t.Fatalf("expected digest mismatch")
	}
}

func TestRun_CommandsPauseStepAndImport(t *testing.T) {
	s := newTestSandbox(t)
	sink := make(chan snapshot.SnapshotV1, 1)
	s.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	out := make(chan []byte, 4)
	st, err := s.Subscribe(ctx, "sub-1", out)
	if err != nil || st.Type != protocol.TypeState || st.Grid.Size != 16 {
		t.Fatalf("subscribe: %+v %v", st, err)
	}

	if err := s.Submit(ctx, "sub-1", placeCmd(grid.Lever, 0, 0, grid.North)); err != nil {
		t.Fatalf("submit place: %v", err)
	}
	if err := s.Submit(ctx, "sub-1", cmdAt(protocol.OpToggle, 9, 9)); !errors.Is(err, grid.ErrEmpty) {
		t.Fatalf("submit toggle empty: %v", err)
	}
	select {
	case msg := <-out:
		if m, err := protocol.DecodeBase(msg); err != nil || m.Type != protocol.TypeState {
			t.Fatalf("broadcast=%s", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no state broadcast")
	}

	if err := s.Submit(ctx, "sub-1", cmdAt(protocol.OpPause, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Export(ctx); err != nil {
		t.Fatal(err)
	}
	paused := s.CurrentTick()
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Export(ctx); err != nil {
		t.Fatal(err)
	}
	if s.CurrentTick() != paused || !s.Status().Paused {
		t.Fatalf("paused sandbox advanced from %d to %d", paused, s.CurrentTick())
	}

	if err := s.Submit(ctx, "sub-1", cmdAt(protocol.OpStep, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Export(ctx); err != nil {
		t.Fatal(err)
	}
	if s.CurrentTick() != paused+1 {
		t.Fatalf("step should advance exactly one tick: %d -> %d", paused, s.CurrentTick())
	}

	before, err := s.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	badDoc := grid.Document{Size: 16, Tiles: map[string]grid.Tile{"40,1": {Kind: grid.Block, Facing: grid.North}}}
	if err := s.Import(ctx, badDoc); !errors.Is(err, grid.ErrOutOfBounds) {
		t.Fatalf("bad import: %v", err)
	}
	after, _ := s.Export(ctx)
	if len(after.Tiles) != len(before.Tiles) {
		t.Fatalf("rejected import touched the grid")
	}

	goodDoc := grid.Document{Size: 16, Tiles: map[string]grid.Tile{"3,3": {Kind: grid.Obsidian, Facing: grid.North}}}
	if err := s.Import(ctx, goodDoc); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, _ := s.Export(ctx)
	if len(got.Tiles) != 1 || got.Tiles["3,3"].Kind != grid.Obsidian {
		t.Fatalf("import not applied: %+v", got)
	}

	if _, err := s.RequestSnapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	select {
	case snap := <-sink:
		if snap.Grid.Tiles["3,3"].Kind != grid.Obsidian {
			t.Fatalf("snapshot grid=%+v", snap.Grid)
		}
	case <-ctx.Done():
		t.Fatalf("no snapshot delivered")
	}

	s.Leave("sub-1")
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
}
