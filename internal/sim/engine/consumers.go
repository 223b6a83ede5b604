package engine

import "circuitsandbox.dev/internal/sim/grid"

// activateConsumers sets each consumer from the propagated power around it.
// TNT only ever latches on here.
func activateConsumers(g grid.Grid) {
	updates := map[grid.Coord]bool{}
	g.Each(func(c grid.Coord, t grid.Tile) {
		if !t.Kind.Consumer() {
			return
		}
		on := t.Power > 0
		for _, n := range c.Neighbors() {
			if g.PowerAt(n) > 0 {
				on = true
				break
			}
		}
		if t.Kind == grid.TNT && !on {
			return
		}
		updates[c] = on
	})
	for c, on := range updates {
		t, _ := g.Get(c)
		t.Active = on
		g.Set(c, t)
	}
}
