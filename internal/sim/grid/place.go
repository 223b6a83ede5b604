package grid

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds = errors.New("coordinate out of bounds")
	ErrEmpty       = errors.New("cell is empty")
	ErrOccupied    = errors.New("cell is occupied")
	ErrUnknownKind = errors.New("unknown tile kind")
	ErrBadFacing   = errors.New("bad facing")
)

// NewTile builds a freshly placed tile with the defaults for its kind.
func NewTile(k Kind, f Facing) Tile {
	if !f.Valid() {
		f = North
	}
	t := Tile{Kind: k, Facing: f}
	switch k {
	case Torch:
		t.Active = true
	case Repeater:
		t.Delay = 1
	case Comparator:
		t.Mode = Compare
	case Water, Lava:
		t.Source = true
		t.Level = MaxFluidLevel
	case Dispenser:
		t.Contents = Air
	case Counter:
		t.Value = 1
	}
	return t
}

// Place puts a new tile of kind k at c, replacing whatever was there.
// Placing any other kind onto a dispenser loads it instead.
func Place(g Grid, c Coord, k Kind, f Facing) error {
	if !g.InBounds(c) {
		return fmt.Errorf("place %s: %w", c, ErrOutOfBounds)
	}
	if !k.Known() {
		return fmt.Errorf("place %q: %w", k, ErrUnknownKind)
	}
	if f != "" && !f.Valid() {
		return fmt.Errorf("place %s: %w %q", c, ErrBadFacing, f)
	}
	if cur, ok := g.Get(c); ok && cur.Kind == Dispenser && k != Dispenser {
		cur.Contents = k
		g.Set(c, cur)
		return nil
	}
	g.Set(c, NewTile(k, f))
	return nil
}
