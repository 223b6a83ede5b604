package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSize is the side length of the square sandbox.
const DefaultSize = 24

type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) Add(dx, dy int) Coord { return Coord{X: c.X + dx, Y: c.Y + dy} }

func (c Coord) Step(f Facing) Coord {
	dx, dy := f.Vector()
	return c.Add(dx, dy)
}

// Neighbors returns the four orthogonal neighbors in N, S, W, E order.
func (c Coord) Neighbors() [4]Coord {
	return [4]Coord{
		{X: c.X, Y: c.Y - 1},
		{X: c.X, Y: c.Y + 1},
		{X: c.X - 1, Y: c.Y},
		{X: c.X + 1, Y: c.Y},
	}
}

// Key is the "x,y" form used in documents and wire messages.
func (c Coord) Key() string { return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Y) }

func (c Coord) String() string { return c.Key() }

func ParseKey(s string) (Coord, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Coord{}, fmt.Errorf("bad coordinate key %q", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return Coord{}, fmt.Errorf("bad coordinate key %q: %w", s, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return Coord{}, fmt.Errorf("bad coordinate key %q: %w", s, err)
	}
	return Coord{X: x, Y: y}, nil
}

type Facing string

const (
	North Facing = "N"
	East  Facing = "E"
	South Facing = "S"
	West  Facing = "W"
)

func (f Facing) Valid() bool {
	switch f {
	case North, East, South, West:
		return true
	}
	return false
}

// Vector is the unit step for f. Screen coordinates: north is -Y.
func (f Facing) Vector() (dx, dy int) {
	switch f {
	case North:
		return 0, -1
	case South:
		return 0, 1
	case West:
		return -1, 0
	case East:
		return 1, 0
	}
	return 0, 0
}

func (f Facing) Opposite() Facing {
	switch f {
	case North:
		return South
	case South:
		return North
	case West:
		return East
	case East:
		return West
	}
	return f
}

// Next rotates clockwise: N -> E -> S -> W -> N.
func (f Facing) Next() Facing {
	switch f {
	case North:
		return East
	case East:
		return South
	case South:
		return West
	}
	return North
}

// Sides returns the two facings perpendicular to f.
func (f Facing) Sides() (Facing, Facing) {
	if f == North || f == South {
		return West, East
	}
	return North, South
}
