package engine

import (
	"circuitsandbox.dev/internal/sim/grid"
	"circuitsandbox.dev/internal/sim/logic/adhesion"
)

// mechEnv exposes a live grid to the adhesion search.
type mechEnv struct{ g grid.Grid }

func toPos(c grid.Coord) adhesion.Pos   { return adhesion.Pos{X: c.X, Y: c.Y} }
func toCoord(p adhesion.Pos) grid.Coord { return grid.Coord{X: p.X, Y: p.Y} }

func (e mechEnv) Occupied(p adhesion.Pos) bool  { return e.g.KindAt(toCoord(p)) != grid.Air }
func (e mechEnv) Sticky(p adhesion.Pos) bool    { return e.g.KindAt(toCoord(p)) == grid.Slime }
func (e mechEnv) Immovable(p adhesion.Pos) bool { return e.g.KindAt(toCoord(p)).Immovable() }
func (e mechEnv) Head(p adhesion.Pos) bool      { return e.g.KindAt(toCoord(p)) == grid.PistonHead }
func (e mechEnv) InBounds(p adhesion.Pos) bool  { return e.g.InBounds(toCoord(p)) }

// resolvePistons extends pistons whose active flag rose and retracts those
// whose flag fell. Pistons are visited in scan order of result; each one is
// re-read from final, which earlier pistons may already have rearranged.
func resolvePistons(prev, result, final grid.Grid) {
	env := mechEnv{g: final}
	for _, c := range result.Coords() {
		planned, _ := result.Get(c)
		if !planned.Kind.IsPiston() {
			continue
		}
		cur, ok := final.Get(c)
		if !ok || cur.Kind != planned.Kind {
			continue
		}
		wasActive := false
		if old, ok := prev.Get(c); ok {
			wasActive = old.Active
		}

		switch {
		case cur.Active && !wasActive:
			extend(env, c, cur)
		case !cur.Active && wasActive:
			retract(env, c, cur)
		}
	}
}

// extend pushes the group in front of the piston one cell and places the
// head. A blocked push leaves the grid alone and turns the piston back off.
func extend(env mechEnv, c grid.Coord, piston grid.Tile) {
	dx, dy := piston.Facing.Vector()
	dir := adhesion.Pos{X: dx, Y: dy}
	members, ok := adhesion.PushGroup(env, toPos(c), dir, adhesion.PushLimit)
	if ok && len(members) == 0 && !env.g.InBounds(c.Step(piston.Facing)) {
		ok = false
	}
	if !ok {
		piston.Active = false
		env.g.Set(c, piston)
		return
	}
	relocate(env.g, members, dx, dy)
	env.g.Set(c.Step(piston.Facing), grid.Tile{
		Kind:   grid.PistonHead,
		Facing: piston.Facing,
		Active: true,
	})
}

// retract removes the head. A sticky piston then pulls the group glued to
// the tile that was touching the head back by one cell.
func retract(env mechEnv, c grid.Coord, piston grid.Tile) {
	head := c.Step(piston.Facing)
	if env.g.KindAt(head) != grid.PistonHead {
		return
	}
	env.g.Delete(head)
	if piston.Kind != grid.StickyPiston {
		return
	}

	target := head.Step(piston.Facing)
	k := env.g.KindAt(target)
	if k == grid.Air || k == grid.PistonHead || k.Immovable() {
		return
	}
	members, ok := adhesion.Group(env, toPos(target), toPos(head), adhesion.PushLimit)
	if !ok || len(members) == 0 {
		return
	}
	dx, dy := piston.Facing.Vector()
	back := adhesion.Pos{X: -dx, Y: -dy}
	if !adhesion.Fits(env, members, back) {
		return
	}
	relocate(env.g, members, -dx, -dy)
}

// relocate lifts every member off the grid before putting any back, so
// overlapping source and destination cells never overwrite each other.
func relocate(g grid.Grid, members []adhesion.Pos, dx, dy int) {
	lifted := make([]grid.Tile, len(members))
	for i, m := range members {
		c := toCoord(m)
		lifted[i], _ = g.Get(c)
		g.Delete(c)
	}
	for i, m := range members {
		g.Set(toCoord(m).Add(dx, dy), lifted[i])
	}
}
