package sandbox

import (
	"errors"
	"fmt"

	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
)

var (
	ErrUnknownOp  = errors.New("unknown op")
	ErrBadCommand = errors.New("bad command")
)

// opImport marks a recorded grid replacement in the tick log. Clients
// import over HTTP, never with a CMD.
const opImport = "IMPORT"

func posOf(p [2]int) grid.Coord { return grid.Coord{X: p[0], Y: p[1]} }

func posArr(c grid.Coord) [2]int { return [2]int{c.X, c.Y} }

// control ops steer the loop and are not part of the replayable record.
func isControl(op string) bool {
	switch op {
	case protocol.OpPause, protocol.OpResume, protocol.OpStep:
		return true
	}
	return false
}

// applyControl handles pause/resume/step. It reports whether a single
// step was requested.
func (s *Sandbox) applyControl(op string) (step bool) {
	switch op {
	case protocol.OpPause:
		s.paused = true
	case protocol.OpResume:
		s.paused = false
	case protocol.OpStep:
		return s.paused
	}
	s.dirty = true
	return false
}

// applyEdit applies one grid or settings edit at tick boundary.
func (s *Sandbox) applyEdit(session string, cmd protocol.CmdMsg, nowTick uint64) error {
	at := posOf(cmd.Pos)
	from := s.grid.KindAt(at)

	var err error
	switch cmd.Op {
	case protocol.OpPlace:
		facing := grid.Facing(cmd.Facing)
		if facing == "" {
			facing = grid.North
		}
		err = grid.Place(s.grid, at, grid.Kind(cmd.Kind), facing)
		if err == nil && s.grid.KindAt(at) != grid.Button {
			delete(s.releases, at)
		}
	case protocol.OpToggle:
		var changed bool
		changed, err = grid.Toggle(s.grid, at)
		if changed && from == grid.Button {
			s.releases[at] = nowTick + uint64(s.cfg.ButtonHoldTicks)
		}
	case protocol.OpRelease:
		err = s.requireTile(at)
		if err == nil && grid.Release(s.grid, at) {
			delete(s.releases, at)
		}
	case protocol.OpStepOn, protocol.OpStepOff:
		err = s.requireTile(at)
		if err == nil {
			grid.Step(s.grid, at, cmd.Op == protocol.OpStepOn)
		}
	case protocol.OpCycleDelay:
		_, err = grid.CycleDelay(s.grid, at)
	case protocol.OpRotate:
		err = grid.Rotate(s.grid, at)
	case protocol.OpDelete:
		err = grid.Delete(s.grid, at)
		delete(s.releases, at)
	case protocol.OpMove:
		if cmd.To == nil {
			return fmt.Errorf("move: %w: missing destination", ErrBadCommand)
		}
		to := posOf(*cmd.To)
		err = grid.Move(s.grid, at, to)
		if err == nil {
			s.moveRelease(at, to)
		}
	case protocol.OpClear:
		s.grid = grid.New(s.cfg.GridSize)
		clear(s.releases)
	case protocol.OpSetTime:
		if cmd.DayTime == nil || *cmd.DayTime < 0 || *cmd.DayTime >= grid.DayLength {
			return fmt.Errorf("set time: %w: day_time must be in [0,%d)", ErrBadCommand, grid.DayLength)
		}
		s.settings.DayTime = *cmd.DayTime
	case protocol.OpSetTNT:
		if cmd.Enabled == nil {
			return fmt.Errorf("set tnt: %w: missing enabled", ErrBadCommand)
		}
		s.settings.TNTDestructive = *cmd.Enabled
	default:
		return fmt.Errorf("%w %q", ErrUnknownOp, cmd.Op)
	}
	if err != nil {
		return err
	}

	s.dirty = true
	s.audit(nowTick, session, cmd.Op, at, from, s.grid.KindAt(at))
	return nil
}

func (s *Sandbox) requireTile(c grid.Coord) error {
	if !s.grid.InBounds(c) {
		return fmt.Errorf("%s: %w", c, grid.ErrOutOfBounds)
	}
	if s.grid.KindAt(c) == grid.Air {
		return fmt.Errorf("%s: %w", c, grid.ErrEmpty)
	}
	return nil
}

func (s *Sandbox) moveRelease(from, to grid.Coord) {
	if from == to {
		return
	}
	delete(s.releases, to)
	if due, ok := s.releases[from]; ok {
		delete(s.releases, from)
		s.releases[to] = due
	}
}

// releaseButtons lets go of every button whose hold ran out by nowTick.
func (s *Sandbox) releaseButtons(nowTick uint64) {
	for c, due := range s.releases {
		if due > nowTick {
			continue
		}
		delete(s.releases, c)
		grid.Release(s.grid, c)
	}
}

// importGrid swaps in a validated grid. Pending button releases belong to
// the old grid and are dropped.
func (s *Sandbox) importGrid(g grid.Grid) {
	s.grid = g
	clear(s.releases)
	s.dirty = true
}

func (s *Sandbox) audit(tick uint64, session, op string, at grid.Coord, from, to grid.Kind) {
	if s.auditLogger == nil {
		return
	}
	_ = s.auditLogger.WriteAudit(AuditEntry{
		Tick:    tick,
		Session: session,
		Op:      op,
		Pos:     posArr(at),
		From:    from,
		To:      to,
	})
}

// auditRejected records a refused command with the reason it was refused.
func (s *Sandbox) auditRejected(tick uint64, session string, cmd protocol.CmdMsg, err error) {
	if s.auditLogger == nil {
		return
	}
	at := posOf(cmd.Pos)
	_ = s.auditLogger.WriteAudit(AuditEntry{
		Tick:    tick,
		Session: session,
		Op:      cmd.Op,
		Pos:     posArr(at),
		From:    s.grid.KindAt(at),
		Reason:  err.Error(),
	})
}
