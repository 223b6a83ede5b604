package engine

import (
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/logic/signal"
)

type signalEnv struct{ g grid.Grid }

func (e signalEnv) Conductor(p signal.Pos) bool {
	return e.g.KindAt(grid.Coord{X: p.X, Y: p.Y}) == grid.Dust
}

// hardPowered reports whether a directional emitter next to c points into
// it with nonzero power.
func hardPowered(g grid.Grid, c grid.Coord) bool {
	for _, n := range c.Neighbors() {
		t, ok := g.Get(n)
		if !ok || !t.Kind.Directional() || t.Power <= 0 {
			continue
		}
		if n.Step(t.Facing) == c {
			return true
		}
	}
	return false
}

// propagatePower seeds the wavefront from every powered non-dust tile and
// every hard-powered solid, then writes the results back in place. Dust
// the wave does not reach stays at the zero power it got from the logic
// pass.
func propagatePower(g grid.Grid) {
	var seeds []signal.Seed
	g.Each(func(c grid.Coord, t grid.Tile) {
		pos := signal.Pos{X: c.X, Y: c.Y}
		switch {
		case t.Kind == grid.Dust:
		case t.Kind.Solid() && hardPowered(g, c):
			seeds = append(seeds, signal.Seed{Pos: pos, Power: grid.MaxPower})
		case t.Power > 0:
			seeds = append(seeds, signal.Seed{Pos: pos, Power: t.Power})
		}
	})

	powered := signal.Propagate(signalEnv{g: g}, seeds)
	for p, power := range powered {
		c := grid.Coord{X: p.X, Y: p.Y}
		t, ok := g.Get(c)
		if !ok {
			continue
		}
		t.Power = grid.ClampPower(power)
		g.Set(c, t)
	}
}
