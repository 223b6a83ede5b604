package sandbox

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

func (s *Sandbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.WithField("interval", s.cfg.TickInterval).Info("sandbox loop started")

	var pendingCmds []CommandEnvelope
	var pendingImports []importReq
	var pendingSnaps []snapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.subscribe:
			s.handleSubscribe(req)
		case id := <-s.leave:
			s.handleLeave(id)
		case req := <-s.exportReq:
			s.handleExport(req)
		case req := <-s.importReq:
			pendingImports = append(pendingImports, req)
		case req := <-s.snapReq:
			pendingSnaps = append(pendingSnaps, req)
		case env := <-s.inbox:
			pendingCmds = append(pendingCmds, env)
		case <-ticker.C:
			s.boundary(pendingImports, pendingCmds)
			s.handleSnapshotRequests(pendingSnaps)
			pendingImports = pendingImports[:0]
			pendingCmds = pendingCmds[:0]
			pendingSnaps = pendingSnaps[:0]
		}
	}
}

// boundary applies everything queued since the previous tick, in arrival
// order per queue, then advances the engine unless paused.
func (s *Sandbox) boundary(imports []importReq, cmds []CommandEnvelope) {
	start := time.Now()
	nowTick := s.tick.Load()

	for _, req := range imports {
		s.importGrid(req.Grid)
		s.recorded = append(s.recorded, RecordedCommand{Cmd: importCmd(), Import: docPtr(req.Grid)})
		reply(req.Resp, nil)
	}

	step := false
	for _, env := range cmds {
		if isControl(env.Cmd.Op) {
			if s.applyControl(env.Cmd.Op) {
				step = true
			}
			reply(env.Resp, nil)
			continue
		}
		err := s.applyEdit(env.SessionID, env.Cmd, nowTick)
		if err == nil {
			s.recorded = append(s.recorded, RecordedCommand{SessionID: env.SessionID, Cmd: env.Cmd})
		} else {
			s.log.WithFields(logrus.Fields{
				"tick":    nowTick,
				"session": env.SessionID,
				"op":      env.Cmd.Op,
			}).WithError(err).Debug("command rejected")
			s.auditRejected(nowTick, env.SessionID, env.Cmd, err)
		}
		reply(env.Resp, err)
	}

	if s.paused && !step {
		if s.dirty {
			s.broadcast(nil)
		}
		s.publishStatus(0)
		return
	}

	s.advance()
	s.publishStatus(float64(time.Since(start).Microseconds()) / 1000.0)
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
		// Caller gave up; don't block the loop.
	}
}
