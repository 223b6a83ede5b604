package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/sandbox"
)

func startServer(t *testing.T) (*httptest.Server, *sandbox.Sandbox) {
	t.Helper()
	schemas, err := protocol.LoadSchemas()
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	sb := sandbox.New(sandbox.Config{GridSize: 16, TickInterval: 5 * time.Millisecond, StartDayTime: 600, ButtonHoldTicks: 15}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sb.Run(ctx) }()

	srv := NewServer(sb, schemas, 16, logger.Discard())
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", srv.Handler())
	mux.HandleFunc("/v1/export", srv.ExportHandler())
	mux.HandleFunc("/v1/import", srv.ImportHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts, sb
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil skips messages until one of type typ satisfies keep.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, keep func([]byte) bool) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("bad frame %s", msg)
		}
		if base.Type == typ && (keep == nil || keep(msg)) {
			return msg
		}
	}
	t.Fatalf("no %s message", typ)
	return nil
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 8},
	})
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome, nil), &w); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, protocol.TypeState, nil)
	return w
}

func errorWith(reqID string) func([]byte) bool {
	return func(b []byte) bool {
		var e protocol.ErrorMsg
		_ = json.Unmarshal(b, &e)
		return e.ReqID == reqID
	}
}

func cmd(reqID, op string, x, y int) protocol.CmdMsg {
	return protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ReqID: reqID, Op: op, Pos: [2]int{x, y}}
}

func TestHandler_SessionFlow(t *testing.T) {
	ts, _ := startServer(t)
	conn := dial(t, ts)

	w := hello(t, conn)
	if _, err := uuid.Parse(w.SessionID); err != nil {
		t.Fatalf("session id %q: %v", w.SessionID, err)
	}
	if w.Params.GridSize != 16 || w.Params.DayLengthTicks != grid.DayLength {
		t.Fatalf("params=%+v", w.Params)
	}

	place := cmd("r1", protocol.OpPlace, 1, 1)
	place.Kind = string(grid.Lever)
	send(t, conn, place)
	readUntil(t, conn, protocol.TypeState, func(b []byte) bool {
		var st protocol.StateMsg
		_ = json.Unmarshal(b, &st)
		return st.Grid.Tiles["1,1"].Kind == grid.Lever
	})

	send(t, conn, cmd("r2", protocol.OpToggle, 5, 5))
	var e protocol.ErrorMsg
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeError, errorWith("r2")), &e)
	if e.Code != protocol.ErrEmpty {
		t.Fatalf("toggle empty: %+v", e)
	}

	send(t, conn, map[string]any{"type": "CMD", "protocol_version": protocol.Version, "req_id": "r3", "op": "FLY"})
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeError, errorWith("r3")), &e)
	if e.Code != protocol.ErrBadRequest {
		t.Fatalf("unknown op: %+v", e)
	}

	send(t, conn, map[string]any{"type": "PING", "protocol_version": protocol.Version})
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeError, errorWith("")), &e)
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("wrong type: %+v", e)
	}
}

func TestHandler_RejectsMissingHello(t *testing.T) {
	ts, _ := startServer(t)
	conn := dial(t, ts)
	send(t, conn, cmd("r1", protocol.OpPause, 0, 0))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("want policy close, got %v", err)
	}
}

func TestExportImportHandlers(t *testing.T) {
	ts, _ := startServer(t)

	post := func(body string) (*http.Response, protocol.ErrorMsg) {
		t.Helper()
		resp, err := http.Post(ts.URL+"/v1/import", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var e protocol.ErrorMsg
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp, e
	}

	if resp, e := post(`{"size":16,"tiles":{"3,3":{"kind":"OBSIDIAN","facing":"N"}}}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("import: %d %+v", resp.StatusCode, e)
	}
	if resp, e := post(`{"size":16,"tiles":{"99,3":{"kind":"BLOCK","facing":"N"}}}`); resp.StatusCode != http.StatusBadRequest || e.Code != protocol.ErrOutOfBounds {
		t.Fatalf("out of bounds import: %d %+v", resp.StatusCode, e)
	}
	if resp, e := post(`{"size":16,"tiles":{"1,1":{"kind":"CHEESE"}}}`); resp.StatusCode != http.StatusBadRequest || e.Code != protocol.ErrUnknownKind {
		t.Fatalf("unknown kind import: %d %+v", resp.StatusCode, e)
	}
	if resp, e := post(`{"size":`); resp.StatusCode != http.StatusBadRequest || e.Code != protocol.ErrDecode {
		t.Fatalf("malformed import: %d %+v", resp.StatusCode, e)
	}

	resp, err := http.Get(ts.URL + "/v1/export")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var doc grid.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Tiles) != 1 || doc.Tiles["3,3"].Kind != grid.Obsidian {
		t.Fatalf("export after rejected imports: %+v", doc)
	}
}

// stalledRuntime accepts subscriptions but never confirms them in time.
type stalledRuntime struct {
	*sandbox.Sandbox

	mu     sync.Mutex
	subbed []string
	left   []string
}

func (r *stalledRuntime) Subscribe(ctx context.Context, id string, out chan []byte) (protocol.StateMsg, error) {
	r.mu.Lock()
	r.subbed = append(r.subbed, id)
	r.mu.Unlock()
	return protocol.StateMsg{}, context.DeadlineExceeded
}

func (r *stalledRuntime) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, id)
}

func TestHandshake_SubscribeFailureLeaves(t *testing.T) {
	schemas, err := protocol.LoadSchemas()
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	rt := &stalledRuntime{Sandbox: sandbox.New(sandbox.Config{GridSize: 8}, logger.Discard())}
	srv := NewServer(rt, schemas, 8, logger.Discard())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	send(t, conn, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
	})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("err=%v want try-again close", err)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.subbed) != 1 || len(rt.left) != 1 || rt.left[0] != rt.subbed[0] {
		t.Fatalf("subscribed=%v left=%v", rt.subbed, rt.left)
	}
}
