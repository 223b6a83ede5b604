package sandbox

import (
	"context"
	"encoding/json"
	"errors"

	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
)

var ErrUnavailable = errors.New("sandbox unavailable")

type subscribeReq struct {
	ID   string
	Out  chan []byte
	Resp chan protocol.StateMsg
}

type exportReq struct {
	Resp chan grid.Document
}

type importReq struct {
	Grid grid.Grid
	Resp chan error
}

type snapshotReq struct {
	Resp chan snapshotResp
}

type snapshotResp struct {
	Tick uint64
	Err  error
}

// Subscribe registers out for STATE messages and returns the current state.
// Delivery drops the oldest queued message when out is full.
func (s *Sandbox) Subscribe(ctx context.Context, id string, out chan []byte) (protocol.StateMsg, error) {
	resp := make(chan protocol.StateMsg, 1)
	select {
	case s.subscribe <- subscribeReq{ID: id, Out: out, Resp: resp}:
	case <-ctx.Done():
		return protocol.StateMsg{}, ctx.Err()
	}
	select {
	case st := <-resp:
		return st, nil
	case <-ctx.Done():
		return protocol.StateMsg{}, ctx.Err()
	}
}

// Leave drops a subscriber. It never blocks the caller for long.
func (s *Sandbox) Leave(id string) {
	select {
	case s.leave <- id:
	default:
		s.log.WithField("session", id).Warn("leave queue full")
	}
}

// Submit queues a command for the next tick boundary and waits for its
// outcome.
func (s *Sandbox) Submit(ctx context.Context, session string, cmd protocol.CmdMsg) error {
	resp := make(chan error, 1)
	select {
	case s.inbox <- CommandEnvelope{SessionID: session, Cmd: cmd, Resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues a command without waiting. The returned channel yields
// the outcome once the command has been applied. A full inbox yields
// ErrUnavailable immediately.
func (s *Sandbox) Enqueue(session string, cmd protocol.CmdMsg) (<-chan error, error) {
	resp := make(chan error, 1)
	select {
	case s.inbox <- CommandEnvelope{SessionID: session, Cmd: cmd, Resp: resp}:
		return resp, nil
	default:
		return nil, ErrUnavailable
	}
}

// Export returns the live grid as a document.
func (s *Sandbox) Export(ctx context.Context) (grid.Document, error) {
	resp := make(chan grid.Document, 1)
	select {
	case s.exportReq <- exportReq{Resp: resp}:
	case <-ctx.Done():
		return grid.Document{}, ctx.Err()
	}
	select {
	case doc := <-resp:
		return doc, nil
	case <-ctx.Done():
		return grid.Document{}, ctx.Err()
	}
}

// Import validates doc in the caller's goroutine and, only if it is sound,
// swaps it in at the next tick boundary. A rejected document leaves the
// live grid untouched.
func (s *Sandbox) Import(ctx context.Context, doc grid.Document) error {
	g, err := grid.FromDocument(doc)
	if err != nil {
		return err
	}
	resp := make(chan error, 1)
	select {
	case s.importReq <- importReq{Grid: g, Resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestSnapshot asks the loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (s *Sandbox) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan snapshotResp, 1)
	select {
	case s.snapReq <- snapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Tick, r.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Sandbox) handleSubscribe(req subscribeReq) {
	if req.Out != nil && req.ID != "" {
		s.subscribers[req.ID] = req.Out
	}
	if req.Resp != nil {
		req.Resp <- s.stateMsg(nil)
	}
	s.log.WithField("session", req.ID).Info("subscriber joined")
}

func (s *Sandbox) handleLeave(id string) {
	if _, ok := s.subscribers[id]; !ok {
		return
	}
	delete(s.subscribers, id)
	s.log.WithField("session", id).Info("subscriber left")
}

func (s *Sandbox) handleExport(req exportReq) {
	if req.Resp != nil {
		req.Resp <- s.grid.Document()
	}
}

func (s *Sandbox) handleSnapshotRequests(reqs []snapshotReq) {
	if len(reqs) == 0 {
		return
	}
	resp := snapshotResp{Tick: s.tick.Load()}
	if s.snapshotSink == nil {
		resp.Err = errors.New("snapshot sink not configured")
	} else {
		select {
		case s.snapshotSink <- s.ExportSnapshot():
		default:
			resp.Err = errors.New("snapshot sink backpressure")
		}
	}
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}

func (s *Sandbox) stateMsg(events []protocol.Event) protocol.StateMsg {
	return protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            s.tick.Load(),
		DayTime:         s.settings.DayTime,
		TNTDestructive:  s.settings.TNTDestructive,
		Paused:          s.paused,
		Digest:          grid.Digest(s.grid),
		Grid:            s.grid.Document(),
		Events:          events,
	}
}

// broadcast sends the current state to every subscriber.
func (s *Sandbox) broadcast(events []protocol.Event) {
	s.dirty = false
	if len(s.subscribers) == 0 {
		return
	}
	b, err := json.Marshal(s.stateMsg(events))
	if err != nil {
		s.log.WithError(err).Error("encode state")
		return
	}
	for _, out := range s.subscribers {
		sendLatest(out, b)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
