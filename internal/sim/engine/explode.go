package engine

import "circuitsandbox.dev/internal/sim/grid"

// BlastRadius is the Euclidean reach of a destructive detonation.
const BlastRadius = 2.2

// blastReach bounds the square scanned around a blast.
const blastReach = 2

func detonating(t grid.Tile) bool {
	return t.Kind == grid.TNT && t.Lit && t.Cooldown <= 0
}

// resolveExplosions removes every TNT whose fuse ran out. With destructive
// TNT enabled it also clears everything but obsidian within BlastRadius.
// Blasts are collected from next before anything is removed, so chained
// TNT inside a blast does not detonate early.
func resolveExplosions(next grid.Grid, s grid.Settings) grid.Grid {
	var blasts []grid.Coord
	next.Each(func(c grid.Coord, t grid.Tile) {
		if detonating(t) {
			blasts = append(blasts, c)
		}
	})
	if len(blasts) == 0 {
		return next
	}

	out := next.Clone()
	for _, at := range blasts {
		out.Delete(at)
		if !s.TNTDestructive {
			continue
		}
		for dy := -blastReach; dy <= blastReach; dy++ {
			for dx := -blastReach; dx <= blastReach; dx++ {
				if float64(dx*dx+dy*dy) > BlastRadius*BlastRadius {
					continue
				}
				c := at.Add(dx, dy)
				if t, ok := next.Get(c); ok && t.Kind != grid.Obsidian {
					out.Delete(c)
				}
			}
		}
	}
	return out
}
