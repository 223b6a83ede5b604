package engine

import "circuitsandbox.dev/internal/sim/grid"

// flowFluids levels water and lava one step. It reads next and writes into
// result, so every cell sees the same frozen neighbor levels.
func flowFluids(next, result grid.Grid) {
	interest := map[grid.Coord]bool{}
	next.Each(func(c grid.Coord, t grid.Tile) {
		if !t.Kind.Fluid() {
			return
		}
		interest[c] = true
		for _, n := range c.Neighbors() {
			interest[n] = true
		}
	})

	for c := range interest {
		if !next.InBounds(c) {
			continue
		}
		cur, occupied := next.Get(c)
		if occupied && cur.Source {
			continue
		}
		water, lava := fluidCandidates(next, c)

		switch {
		case water > 0 && water >= lava:
			if canFlowInto(cur, occupied, grid.Water) {
				result.Set(c, flowTile(grid.Water, water))
			}
		case lava > 0:
			if canFlowInto(cur, occupied, grid.Lava) {
				result.Set(c, flowTile(grid.Lava, lava))
			}
		case occupied && cur.Kind.Fluid():
			result.Delete(c)
		}
	}
}

// fluidCandidates returns the level each fluid would reach at c: one less
// than its strongest neighbor.
func fluidCandidates(g grid.Grid, c grid.Coord) (water, lava int) {
	for _, n := range c.Neighbors() {
		t, ok := g.Get(n)
		if !ok {
			continue
		}
		switch t.Kind {
		case grid.Water:
			water = max(water, t.Level-1)
		case grid.Lava:
			lava = max(lava, t.Level-1)
		}
	}
	return water, lava
}

// canFlowInto allows empty and replaceable cells, and re-levels a flowing
// cell of the same fluid.
func canFlowInto(cur grid.Tile, occupied bool, k grid.Kind) bool {
	if !occupied {
		return true
	}
	return cur.Kind.Replaceable() || cur.Kind == k
}

func flowTile(k grid.Kind, level int) grid.Tile {
	return grid.Tile{Kind: k, Facing: grid.North, Level: min(level, grid.MaxFluidLevel)}
}
