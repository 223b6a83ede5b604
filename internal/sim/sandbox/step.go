package sandbox

import (
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/engine"
	"circuitsandbox.dev/internal/sim/grid"
)

// advance runs one engine tick over the current grid and records it.
func (s *Sandbox) advance() {
	nowTick := s.tick.Load()
	s.releaseButtons(nowTick)

	prev := s.grid
	settings := s.settings
	next := engine.Advance(prev, settings)
	events := DiffEvents(prev, next)
	s.grid = next

	digest := grid.Digest(next)
	if s.tickLogger != nil {
		_ = s.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			Commands: s.recorded,
			Settings: settings,
			Events:   events,
			Digest:   digest,
		})
	}
	s.recorded = nil

	s.settings.DayTime = (s.settings.DayTime + 1) % grid.DayLength
	nextTick := s.tick.Add(1)

	// Snapshot every N ticks, starting after tick 0.
	if s.snapshotSink != nil && s.cfg.SnapshotEveryTicks > 0 && nextTick%uint64(s.cfg.SnapshotEveryTicks) == 0 {
		select {
		case s.snapshotSink <- s.ExportSnapshot():
		default:
			// Drop snapshot if sink is backed up.
			s.log.WithField("tick", nextTick).Warn("snapshot sink backed up; dropped")
		}
	}

	s.broadcast(events)
}

// StepOnce applies a recorded batch and advances by a single tick using the
// same ordering as the live loop. It is meant for replays and tests, and
// must not be mixed with a running loop.
func (s *Sandbox) StepOnce(cmds []RecordedCommand) (tick uint64, digest string, err error) {
	tick = s.tick.Load()
	for _, rc := range cmds {
		if rc.Cmd.Op == opImport {
			if rc.Import == nil {
				return tick, "", ErrBadCommand
			}
			g, err := grid.FromDocument(*rc.Import)
			if err != nil {
				return tick, "", err
			}
			s.importGrid(g)
			s.recorded = append(s.recorded, rc)
			continue
		}
		if isControl(rc.Cmd.Op) {
			continue
		}
		if err := s.applyEdit(rc.SessionID, rc.Cmd, tick); err != nil {
			return tick, "", err
		}
		s.recorded = append(s.recorded, rc)
	}
	s.advance()
	return tick, grid.Digest(s.grid), nil
}

// Apply runs a single command outside the loop, for tests and tools.
func (s *Sandbox) Apply(session string, cmd protocol.CmdMsg) error {
	if isControl(cmd.Op) {
		s.applyControl(cmd.Op)
		return nil
	}
	if err := s.applyEdit(session, cmd, s.tick.Load()); err != nil {
		return err
	}
	s.recorded = append(s.recorded, RecordedCommand{SessionID: session, Cmd: cmd})
	return nil
}

// Grid returns a deep copy of the live grid. Loop-goroutine only.
func (s *Sandbox) Grid() grid.Grid { return s.grid.Clone() }

func (s *Sandbox) Settings() grid.Settings { return s.settings }

func importCmd() protocol.CmdMsg {
	return protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, Op: opImport}
}

func docPtr(g grid.Grid) *grid.Document {
	doc := g.Document()
	return &doc
}
