package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		x      = flag.Int("x", 0, "circuit origin x")
		y      = flag.Int("y", 0, "circuit origin y")
		length = flag.Int("length", 4, "dust wire length")
		every  = flag.Uint64("toggle_every", 20, "toggle the lever every N ticks (0 disables)")
	)
	flag.Parse()

	log := logger.New().WithField("component", "bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		log.WithError(err).Fatal("dial")
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	}
	if err := conn.WriteJSON(hello); err != nil {
		log.WithError(err).Fatal("send HELLO")
	}

	b := &bot{origin: grid.Coord{X: *x, Y: *y}, length: *length, every: *every}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("read")
			}
			return
		}
		out, err := b.handle(msg, log)
		if err != nil {
			log.WithError(err).Debug("skip message")
			continue
		}
		for _, cmd := range out {
			if err := conn.WriteJSON(cmd); err != nil {
				log.WithError(err).Error("send CMD")
				return
			}
		}
	}
}

// bot builds a lever, a dust wire and a lamp once it is welcomed, then
// toggles the lever on a fixed tick period and reports the lamp.
type bot struct {
	origin grid.Coord
	length int
	every  uint64

	seq        int
	built      bool
	lastToggle uint64
	lampLit    bool
}

func (b *bot) handle(msg []byte, log logrus.FieldLogger) ([]protocol.CmdMsg, error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"session":   w.SessionID,
			"grid_size": w.Params.GridSize,
			"tick_ms":   w.Params.TickIntervalMs,
		}).Info("WELCOME")
		if b.built {
			return nil, nil
		}
		b.built = true
		return b.circuit(), nil

	case protocol.TypeState:
		var st protocol.StateMsg
		if err := json.Unmarshal(msg, &st); err != nil {
			return nil, err
		}
		return b.onState(st, log), nil

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{"req_id": e.ReqID, "code": e.Code}).Warn(e.Message)
	}
	return nil, nil
}

func (b *bot) lever() grid.Coord { return b.origin }
func (b *bot) lamp() grid.Coord  { return b.origin.Add(b.length+1, 0) }

func (b *bot) circuit() []protocol.CmdMsg {
	out := []protocol.CmdMsg{b.cmd(protocol.OpPlace, b.lever(), grid.Lever)}
	for i := 1; i <= b.length; i++ {
		out = append(out, b.cmd(protocol.OpPlace, b.origin.Add(i, 0), grid.Dust))
	}
	return append(out, b.cmd(protocol.OpPlace, b.lamp(), grid.Lamp))
}

func (b *bot) onState(st protocol.StateMsg, log logrus.FieldLogger) []protocol.CmdMsg {
	for _, ev := range st.Events {
		log.WithFields(logrus.Fields{"tick": st.Tick, "type": ev.Type, "pos": ev.Pos, "action": ev.Action}).Info("event")
	}
	lit := st.Grid.Tiles[b.lamp().Key()].Active
	if lit != b.lampLit {
		b.lampLit = lit
		log.WithFields(logrus.Fields{"tick": st.Tick, "lit": lit}).Info("lamp")
	}
	if b.every == 0 || st.Paused || st.Tick < b.lastToggle+b.every {
		return nil
	}
	if st.Grid.Tiles[b.lever().Key()].Kind != grid.Lever {
		return nil
	}
	b.lastToggle = st.Tick
	return []protocol.CmdMsg{b.cmd(protocol.OpToggle, b.lever(), "")}
}

func (b *bot) cmd(op string, at grid.Coord, kind grid.Kind) protocol.CmdMsg {
	b.seq++
	return protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ReqID:           fmt.Sprintf("R%d", b.seq),
		Op:              op,
		Pos:             [2]int{at.X, at.Y},
		Kind:            string(kind),
	}
}
