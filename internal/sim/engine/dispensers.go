package engine

import "circuitsandbox.dev/internal/sim/grid"

// fireDispensers emits one tile from every dispenser whose active flag rose
// this tick. Emission goes into the empty cell the dispenser faces; the
// first dispenser in scan order wins a contested cell.
func fireDispensers(prev, next, result grid.Grid) {
	next.Each(func(c grid.Coord, t grid.Tile) {
		if t.Kind != grid.Dispenser || !t.Active {
			return
		}
		if old, ok := prev.Get(c); ok && old.Active {
			return
		}
		if t.Contents == "" || t.Contents == grid.Air || !t.Contents.Known() {
			return
		}
		dst := c.Step(t.Facing)
		if !result.InBounds(dst) || result.KindAt(dst) != grid.Air {
			return
		}
		result.Set(dst, emitted(t.Contents, t.Facing))
	})
}

// emitted is a freshly placed tile, except that fluids come out as a
// decaying flow rather than a source.
func emitted(k grid.Kind, f grid.Facing) grid.Tile {
	t := grid.NewTile(k, f)
	if k.Fluid() {
		t.Source = false
		t.Level = grid.MaxFluidLevel
	}
	return t
}
