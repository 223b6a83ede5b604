package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/sandbox"
	"circuitsandbox.dev/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: sandbox.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(sandbox.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(sandbox.AuditEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", 10, snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WritesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}

	place := protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, Op: protocol.OpPlace, Pos: [2]int{2, 3}, Kind: string(grid.NoteBlock)}
	for tick := uint64(0); tick < 3; tick++ {
		e := sandbox.TickLogEntry{Tick: tick, Digest: "d", Settings: grid.Settings{DayTime: 600}}
		if tick == 1 {
			e.Commands = []sandbox.RecordedCommand{{SessionID: "s1", Cmd: place}}
			e.Events = []protocol.Event{
				{Type: protocol.EventNote, Pos: [2]int{2, 3}, Pitch: 4},
				{Type: protocol.EventPiston, Pos: [2]int{5, 5}, Action: protocol.PistonExtend},
			}
		}
		_ = idx.WriteTick(e)
	}
	_ = idx.WriteAudit(sandbox.AuditEntry{Tick: 1, Session: "s1", Op: protocol.OpPlace, Pos: [2]int{2, 3}, From: grid.Air, To: grid.NoteBlock})
	_ = idx.WriteAudit(sandbox.AuditEntry{Tick: 1, Session: "s1", Op: protocol.OpToggle, Pos: [2]int{9, 9}, Reason: "cell is empty"})

	doc := grid.New(8).Document()
	idx.RecordSnapshot("/data/snapshots/100.snap.zst", 2048, snapshot.SnapshotV1{Header: snapshot.Header{Tick: 100, Digest: "abc"}, Grid: doc})
	idx.RecordSnapshot("/data/snapshots/200.snap.zst", 4096, snapshot.SnapshotV1{Header: snapshot.Header{Tick: 200, Digest: "def"}, Grid: doc})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	count := func(q string, args ...any) int {
		t.Helper()
		var n int
		if err := idx.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		return n
	}
	if n := count(`SELECT COUNT(*) FROM ticks`); n != 3 {
		t.Fatalf("ticks=%d", n)
	}
	if n := count(`SELECT COUNT(*) FROM commands WHERE session_id=? AND op=?`, "s1", protocol.OpPlace); n != 1 {
		t.Fatalf("commands=%d", n)
	}
	if n := count(`SELECT COUNT(*) FROM audits WHERE tick=1`); n != 2 {
		t.Fatalf("audits=%d", n)
	}
	if n := count(`SELECT COUNT(*) FROM meta WHERE key='tuning_digest'`); n != 1 {
		t.Fatalf("tuning digest missing")
	}

	notes, err := idx.CountEvents(ctx, protocol.EventNote, 0, 10)
	if err != nil || notes != 1 {
		t.Fatalf("notes=%d err=%v", notes, err)
	}

	latest, ok, err := idx.LatestSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.Tick != 200 || latest.Digest != "def" || latest.Bytes != 4096 {
		t.Fatalf("latest=%+v", latest)
	}
}

func TestSQLiteIndex_LatestSnapshotEmpty(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if _, ok, err := idx.LatestSnapshot(context.Background()); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
