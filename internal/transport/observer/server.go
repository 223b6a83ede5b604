// Package observer streams the sandbox read-only to local spectators such
// as renderers and audio players. Commands are never accepted here.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/sandbox"
)

// Source is the read side of the sandbox.
type Source interface {
	Params() protocol.SandboxParams
	Status() sandbox.Status
	Subscribe(ctx context.Context, id string, out chan []byte) (protocol.StateMsg, error)
	Leave(id string)
}

// BootstrapResponse tells a spectator what it is about to watch.
type BootstrapResponse struct {
	ProtocolVersion string                 `json:"protocol_version"`
	Tick            uint64                 `json:"tick"`
	Paused          bool                   `json:"paused"`
	Params          protocol.SandboxParams `json:"params"`
	Kinds           []grid.Kind            `json:"kinds"`
}

type Server struct {
	src Source
	log logrus.FieldLogger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(src Source, log logrus.FieldLogger) *Server {
	return &Server{
		src: src,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		st := s.src.Status()
		resp := BootstrapResponse{
			ProtocolVersion: protocol.Version,
			Tick:            st.Tick,
			Paused:          st.Paused,
			Params:          s.src.Params(),
			Kinds:           grid.Kinds(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 8)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		subCtx, subCancel := context.WithTimeout(ctx, 5*time.Second)
		st, err := s.src.Subscribe(subCtx, sid, out)
		subCancel()
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer s.src.Leave(sid)
		s.log.WithField("session", sid).Info("spectator connected")

		first, err := json.Marshal(st)
		if err != nil {
			return
		}

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			b := first
			for {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b = <-out:
				}
			}
		}()

		// Reader loop: spectators only talk to close the stream.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
