package engine

import (
	"testing"

	"circuitsandbox.dev/internal/sim/grid"
)

var noon = grid.Settings{DayTime: 600}

func xy(x, y int) grid.Coord { return grid.Coord{X: x, Y: y} }

func put(t *testing.T, g grid.Grid, x, y int, k grid.Kind, f grid.Facing) {
	t.Helper()
	if err := grid.Place(g, xy(x, y), k, f); err != nil {
		t.Fatalf("place %s at %d,%d: %v", k, x, y, err)
	}
}

func tileAt(g grid.Grid, x, y int) grid.Tile {
	tile, _ := g.Get(xy(x, y))
	return tile
}

func toggle(t *testing.T, g grid.Grid, x, y int) {
	t.Helper()
	if _, err := grid.Toggle(g, xy(x, y)); err != nil {
		t.Fatalf("toggle %d,%d: %v", x, y, err)
	}
}

func run(g grid.Grid, s grid.Settings, ticks int) grid.Grid {
	for i := 0; i < ticks; i++ {
		g = Advance(g, s)
	}
	return g
}

func checkBounds(t *testing.T, g grid.Grid) {
	t.Helper()
	g.Each(func(c grid.Coord, tile grid.Tile) {
		if tile.Power < 0 || tile.Power > grid.MaxPower {
			t.Fatalf("%s %s power %d out of range", c, tile.Kind, tile.Power)
		}
		if tile.Kind.Fluid() && (tile.Level < 1 || tile.Level > grid.MaxFluidLevel) {
			t.Fatalf("%s %s level %d out of range", c, tile.Kind, tile.Level)
		}
	})
}
