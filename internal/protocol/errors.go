package protocol

import (
	"errors"

	"circuitsandbox.dev/internal/sim/grid"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrDecode          = "E_DECODE"

	// Sandbox state.
	ErrBusy = "E_BUSY"

	// Edit layer.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrOutOfBounds = "E_OUT_OF_BOUNDS"
	ErrEmpty       = "E_EMPTY"
	ErrOccupied    = "E_OCCUPIED"
	ErrUnknownKind = "E_UNKNOWN_KIND"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrDecode:          {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrOutOfBounds:     {},
	ErrEmpty:           {},
	ErrOccupied:        {},
	ErrUnknownKind:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps an edit error to its wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, grid.ErrOutOfBounds):
		return ErrOutOfBounds
	case errors.Is(err, grid.ErrEmpty):
		return ErrEmpty
	case errors.Is(err, grid.ErrOccupied):
		return ErrOccupied
	case errors.Is(err, grid.ErrUnknownKind):
		return ErrUnknownKind
	default:
		return ErrBadRequest
	}
}
