package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"circuitsandbox.dev/internal/platform/logger"
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/sandbox"
)

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.4:5000":  false,
		"example:1":      false,
		"":               false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%q: got %v want %v", addr, got, want)
		}
	}
}

func TestSpectatorStream(t *testing.T) {
	sb := sandbox.New(sandbox.Config{GridSize: 8, TickInterval: 5 * time.Millisecond}, logger.Discard())
	if err := sb.Apply("setup", protocol.CmdMsg{Op: protocol.OpPlace, Pos: [2]int{2, 2}, Kind: string(grid.Lamp)}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sb.Run(ctx) }()

	srv := NewServer(sb, logger.Discard())
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observer/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", srv.WSHandler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/observer/bootstrap")
	if err != nil {
		t.Fatal(err)
	}
	var boot BootstrapResponse
	_ = json.NewDecoder(resp.Body).Decode(&boot)
	resp.Body.Close()
	if boot.Params.GridSize != 8 || len(boot.Kinds) != len(grid.Kinds()) {
		t.Fatalf("bootstrap=%+v", boot)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/observer/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 3; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		var st protocol.StateMsg
		if err := json.Unmarshal(msg, &st); err != nil || st.Type != protocol.TypeState {
			t.Fatalf("frame %d: %s", i, msg)
		}
		if st.Grid.Tiles["2,2"].Kind != grid.Lamp {
			t.Fatalf("frame %d grid=%+v", i, st.Grid)
		}
	}
}
