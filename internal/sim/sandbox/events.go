package sandbox

import (
	"circuitsandbox.dev/internal/protocol"
	"circuitsandbox.dev/internal/sim/grid"
)

// DiffEvents reports the audible and visible edges between two consecutive
// grids: notes struck, TNT detonated and pistons moved. Order is scan order
// of the cell, explosions first.
func DiffEvents(prev, next grid.Grid) []protocol.Event {
	var out []protocol.Event
	for _, c := range prev.Coords() {
		t, _ := prev.Get(c)
		if t.Kind == grid.TNT && t.Lit && t.Cooldown <= 1 && next.KindAt(c) != grid.TNT {
			out = append(out, protocol.Event{Type: protocol.EventExplode, Pos: posArr(c)})
		}
	}
	for _, c := range next.Coords() {
		t, _ := next.Get(c)
		old, had := prev.Get(c)
		wasActive := had && old.Kind == t.Kind && old.Active
		switch {
		case t.Kind == grid.NoteBlock && t.Active && !wasActive:
			out = append(out, protocol.Event{Type: protocol.EventNote, Pos: posArr(c), Pitch: t.Pitch})
		case t.Kind.IsPiston() && t.Active && !wasActive && next.KindAt(c.Step(t.Facing)) == grid.PistonHead:
			out = append(out, protocol.Event{Type: protocol.EventPiston, Pos: posArr(c), Action: protocol.PistonExtend})
		case t.Kind.IsPiston() && !t.Active && wasActive:
			out = append(out, protocol.Event{Type: protocol.EventPiston, Pos: posArr(c), Action: protocol.PistonRetract})
		}
	}
	return out
}
