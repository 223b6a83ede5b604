// Package sandbox owns the live grid. A single goroutine runs the tick loop;
// everything else talks to it over channels.
package sandbox

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"circuitsandbox.dev/internal/persistence/snapshot"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/tuning"
)

type Config struct {
	GridSize           int
	TickInterval       time.Duration
	StartDayTime       int
	TNTDestructive     bool
	ButtonHoldTicks    int
	SnapshotEveryTicks int
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		GridSize:           t.GridSize,
		TickInterval:       t.TickInterval(),
		StartDayTime:       t.StartDayTime,
		TNTDestructive:     t.TNTDestructive,
		ButtonHoldTicks:    t.ButtonHoldTicks,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
	}
}

// CommandEnvelope carries one client command into the loop. Resp, if set,
// receives the outcome once the command has been applied.
type CommandEnvelope struct {
	SessionID string
	Cmd       protocol.CmdMsg
	Resp      chan error
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// TickLogEntry is everything needed to replay one tick: the edits applied
// before it, the settings it ran with and the digest it produced.
type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Settings grid.Settings     `json:"settings"`
	Events   []protocol.Event  `json:"events,omitempty"`
	Digest   string            `json:"digest"`
}

// RecordedCommand is an applied edit. Imports are recorded in line with
// Op "IMPORT" and the document that replaced the grid.
type RecordedCommand struct {
	SessionID string          `json:"session_id,omitempty"`
	Cmd       protocol.CmdMsg `json:"cmd"`
	Import    *grid.Document  `json:"import,omitempty"`
}

type AuditEntry struct {
	Tick    uint64    `json:"tick"`
	Session string    `json:"session,omitempty"`
	Op      string    `json:"op"`
	Pos     [2]int    `json:"pos"`
	From    grid.Kind `json:"from,omitempty"`
	To      grid.Kind `json:"to,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Status is a lock-free summary for health and metrics endpoints.
type Status struct {
	Tick        uint64  `json:"tick"`
	DayTime     int     `json:"day_time"`
	Paused      bool    `json:"paused"`
	Tiles       int     `json:"tiles"`
	Subscribers int     `json:"subscribers"`
	Inbox       int     `json:"inbox"`
	StepMS      float64 `json:"step_ms"`
}

// Sandbox is a single-threaded authoritative simulation.
// All state must be accessed only from the loop goroutine.
type Sandbox struct {
	cfg Config
	log logrus.FieldLogger

	tick atomic.Uint64

	grid     grid.Grid
	settings grid.Settings
	paused   bool

	// releases maps pressed buttons to the tick that lets them go.
	releases map[grid.Coord]uint64

	// Edits applied since the last engine tick, recorded with it.
	recorded []RecordedCommand
	dirty    bool

	subscribers map[string]chan []byte

	inbox     chan CommandEnvelope
	subscribe chan subscribeReq
	leave     chan string
	exportReq chan exportReq
	importReq chan importReq
	snapReq   chan snapshotReq
	stop      chan struct{}

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	status atomic.Value
}

func New(cfg Config, log logrus.FieldLogger) *Sandbox {
	if cfg.GridSize <= 0 {
		cfg.GridSize = grid.DefaultSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.ButtonHoldTicks <= 0 {
		cfg.ButtonHoldTicks = 15
	}
	s := &Sandbox{
		cfg:         cfg,
		log:         log,
		grid:        grid.New(cfg.GridSize),
		settings:    grid.Settings{DayTime: cfg.StartDayTime % grid.DayLength, TNTDestructive: cfg.TNTDestructive},
		releases:    map[grid.Coord]uint64{},
		subscribers: map[string]chan []byte{},
		inbox:       make(chan CommandEnvelope, 1024),
		subscribe:   make(chan subscribeReq, 64),
		leave:       make(chan string, 64),
		exportReq:   make(chan exportReq, 16),
		importReq:   make(chan importReq, 4),
		snapReq:     make(chan snapshotReq, 4),
		stop:        make(chan struct{}),
	}
	s.publishStatus(0)
	return s
}

func (s *Sandbox) SetTickLogger(l TickLogger)                    { s.tickLogger = l }
func (s *Sandbox) SetAuditLogger(l AuditLogger)                  { s.auditLogger = l }
func (s *Sandbox) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { s.snapshotSink = ch }

func (s *Sandbox) Inbox() chan<- CommandEnvelope { return s.inbox }

func (s *Sandbox) Config() Config { return s.cfg }

func (s *Sandbox) CurrentTick() uint64 { return s.tick.Load() }

func (s *Sandbox) Status() Status {
	st, _ := s.status.Load().(Status)
	return st
}

func (s *Sandbox) Stop() { close(s.stop) }

// Params describes the sandbox to a newly connected client.
func (s *Sandbox) Params() protocol.SandboxParams {
	return protocol.SandboxParams{
		GridSize:       s.cfg.GridSize,
		TickIntervalMs: int(s.cfg.TickInterval / time.Millisecond),
		DayLengthTicks: grid.DayLength,
		TNTDestructive: s.cfg.TNTDestructive,
	}
}

func (s *Sandbox) publishStatus(stepMS float64) {
	s.status.Store(Status{
		Tick:        s.tick.Load(),
		DayTime:     s.settings.DayTime,
		Paused:      s.paused,
		Tiles:       s.grid.Len(),
		Subscribers: len(s.subscribers),
		Inbox:       len(s.inbox),
		StepMS:      stepMS,
	})
}
