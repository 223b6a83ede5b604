package protocol

import "circuitsandbox.dev/internal/sim/grid"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	Params          SandboxParams `json:"params"`
}

type SandboxParams struct {
	GridSize       int  `json:"grid_size"`
	TickIntervalMs int  `json:"tick_interval_ms"`
	DayLengthTicks int  `json:"day_length_ticks"`
	TNTDestructive bool `json:"tnt_destructive"`
}

// STATE (server -> client), one per tick or edit batch.
type StateMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Tick            uint64        `json:"tick"`
	DayTime         int           `json:"day_time"`
	TNTDestructive  bool          `json:"tnt_destructive"`
	Paused          bool          `json:"paused"`
	Digest          string        `json:"digest"`
	Grid            grid.Document `json:"grid"`
	Events          []Event       `json:"events,omitempty"`
}

// Event is an edge the renderer or audio layer may want to act on.
type Event struct {
	Type   string `json:"type"`
	Pos    [2]int `json:"pos"`
	Pitch  int    `json:"pitch,omitempty"`
	Action string `json:"action,omitempty"`
}

// Event types.
const (
	EventNote    = "NOTE"
	EventExplode = "EXPLODE"
	EventPiston  = "PISTON"
)

// Piston event actions.
const (
	PistonExtend  = "EXTEND"
	PistonRetract = "RETRACT"
)

// CMD (client -> server)
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Op              string `json:"op"`

	Pos    [2]int  `json:"pos"`
	To     *[2]int `json:"to,omitempty"`
	Kind   string  `json:"kind,omitempty"`
	Facing string  `json:"facing,omitempty"`

	DayTime *int  `json:"day_time,omitempty"`
	Enabled *bool `json:"enabled,omitempty"`
}

// Command ops.
const (
	OpPlace      = "PLACE"
	OpToggle     = "TOGGLE"
	OpRelease    = "RELEASE"
	OpStepOn     = "STEP_ON"
	OpStepOff    = "STEP_OFF"
	OpCycleDelay = "CYCLE_DELAY"
	OpRotate     = "ROTATE"
	OpDelete     = "DELETE"
	OpMove       = "MOVE"
	OpClear      = "CLEAR"
	OpSetTime    = "SET_TIME"
	OpSetTNT     = "SET_TNT"
	OpPause      = "PAUSE"
	OpResume     = "RESUME"
	OpStep       = "STEP"
)

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(reqID, code, msg string) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Code:            code,
		Message:         msg,
	}
}
