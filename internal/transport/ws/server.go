// Package ws serves the sandbox to interactive clients over WebSocket and
// exposes grid export/import over plain HTTP.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/sandbox"
)

// Runtime is the part of the sandbox the transport drives.
type Runtime interface {
	Params() protocol.SandboxParams
	Subscribe(ctx context.Context, id string, out chan []byte) (protocol.StateMsg, error)
	Leave(id string)
	Enqueue(session string, cmd protocol.CmdMsg) (<-chan error, error)
	Export(ctx context.Context) (grid.Document, error)
	Import(ctx context.Context, doc grid.Document) error
}

type Server struct {
	rt       Runtime
	schemas  *protocol.Schemas
	maxQueue int
	log      logrus.FieldLogger

	upgrader websocket.Upgrader
}

func NewServer(rt Runtime, schemas *protocol.Schemas, maxQueue int, log logrus.FieldLogger) *Server {
	if maxQueue <= 0 {
		maxQueue = 64
	}
	return &Server{
		rt:       rt,
		schemas:  schemas,
		maxQueue: maxQueue,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type session struct {
	id      string
	out     chan []byte
	replies chan []byte
	pending chan pendingCmd
}

type pendingCmd struct {
	reqID string
	resp  <-chan error
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sess := s.handshake(ctx, conn)
		if sess == nil {
			return
		}
		defer s.rt.Leave(sess.id)
		log := s.log.WithField("session", sess.id)
		log.Info("client connected")

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, conn, sess) }()
		go s.ackLoop(ctx, sess)

		s.readLoop(conn, sess)
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("client disconnected")
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	if err := s.schemas.Validate(protocol.TypeHello, msg); err != nil {
		_ = writeJSON(conn, protocol.NewError("", protocol.ErrProtoBadRequest, err.Error()))
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > s.maxQueue {
		maxQ = s.maxQueue
	}
	sess := &session{
		id:      uuid.NewString(),
		out:     make(chan []byte, maxQ),
		replies: make(chan []byte, maxQ),
		pending: make(chan pendingCmd, maxQ),
	}

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := s.rt.Subscribe(subCtx, sess.id, sess.out)
	if err != nil {
		s.rt.Leave(sess.id)
		closeWith(conn, websocket.CloseTryAgainLater, "server busy")
		return nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Params:          s.rt.Params(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.rt.Leave(sess.id)
		return nil
	}
	if err := writeJSON(conn, st); err != nil {
		s.rt.Leave(sess.id)
		return nil
	}
	s.log.WithFields(logrus.Fields{"session": sess.id, "client": hello.ClientName, "max_queue": maxQ}).Debug("handshake done")
	return sess
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		var b []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b = <-sess.out:
		case b = <-sess.replies:
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
}

// ackLoop waits on queued commands in order and reports the rejected ones.
func (s *Server) ackLoop(ctx context.Context, sess *session) {
	for {
		var p pendingCmd
		select {
		case <-ctx.Done():
			return
		case p = <-sess.pending:
		}
		select {
		case <-ctx.Done():
			return
		case err := <-p.resp:
			if err != nil {
				s.reply(sess, protocol.NewError(p.reqID, protocol.CodeFor(err), err.Error()))
			}
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, sess *session) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			s.reply(sess, protocol.NewError("", protocol.ErrDecode, "invalid json"))
			continue
		}
		if base.Type != protocol.TypeCmd {
			s.reply(sess, protocol.NewError("", protocol.ErrProtoBadRequest, "expected CMD"))
			continue
		}
		if err := s.schemas.Validate(protocol.TypeCmd, msg); err != nil {
			s.reply(sess, protocol.NewError(reqIDOf(msg), protocol.ErrBadRequest, err.Error()))
			continue
		}
		var cmd protocol.CmdMsg
		if err := json.Unmarshal(msg, &cmd); err != nil {
			s.reply(sess, protocol.NewError(reqIDOf(msg), protocol.ErrDecode, err.Error()))
			continue
		}
		if cmd.ProtocolVersion != protocol.Version {
			s.reply(sess, protocol.NewError(cmd.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version"))
			continue
		}

		// The reader is the only producer, so a free slot stays free.
		if len(sess.pending) == cap(sess.pending) {
			s.reply(sess, protocol.NewError(cmd.ReqID, protocol.ErrBusy, "too many commands in flight"))
			continue
		}
		resp, err := s.rt.Enqueue(sess.id, cmd)
		if err != nil {
			s.reply(sess, protocol.NewError(cmd.ReqID, protocol.ErrBusy, err.Error()))
			continue
		}
		sess.pending <- pendingCmd{reqID: cmd.ReqID, resp: resp}
	}
}

func (s *Server) reply(sess *session, msg protocol.ErrorMsg) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case sess.replies <- b:
	default:
		s.log.WithFields(logrus.Fields{"session": sess.id, "code": msg.Code}).Warn("reply queue full; dropped")
	}
}

// ExportHandler serves the live grid as a JSON document.
func (s *Server) ExportHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		doc, err := s.rt.Export(ctx)
		if err != nil {
			writeHTTPError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(doc)
	}
}

// ImportHandler replaces the live grid. A document that fails to decode or
// validate is answered with 400 and never reaches the grid.
func (s *Server) ImportHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var doc grid.Document
		dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 16<<20))
		if err := dec.Decode(&doc); err != nil {
			writeHTTPError(rw, http.StatusBadRequest, protocol.ErrDecode, err.Error())
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.rt.Import(ctx, doc); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sandbox.ErrUnavailable) {
				writeHTTPError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
				return
			}
			writeHTTPError(rw, http.StatusBadRequest, protocol.CodeFor(err), err.Error())
			return
		}
		s.log.WithField("tiles", len(doc.Tiles)).Info("grid imported")
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tiles": len(doc.Tiles)})
	}
}

func writeHTTPError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.NewError("", code, msg))
}

func reqIDOf(msg []byte) string {
	var v struct {
		ReqID string `json:"req_id"`
	}
	_ = json.Unmarshal(msg, &v)
	return v.ReqID
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
