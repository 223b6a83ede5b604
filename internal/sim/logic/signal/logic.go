package signal

// Pos mirrors grid.Coord so this package stays free of engine types.
type Pos struct {
	X int
	Y int
}

type Seed struct {
	Pos   Pos
	Power int
}

type Env interface {
	// Conductor reports whether p carries propagated power.
	Conductor(Pos) bool
}

var cardinalDirs = []Pos{
	{X: 0, Y: -1},
	{X: 0, Y: 1},
	{X: -1, Y: 0},
	{X: 1, Y: 0},
}

// Propagate runs a multi-source wavefront from seeds through conductors.
// Each hop costs one unit of power. The result holds the best power found
// for every seed and every reached conductor; conductors reached only at
// power 0 are omitted.
func Propagate(env Env, seeds []Seed) map[Pos]int {
	best := make(map[Pos]int, len(seeds))
	q := make([]Seed, 0, len(seeds))
	for _, s := range seeds {
		if s.Power <= 0 {
			continue
		}
		if s.Power <= best[s.Pos] {
			continue
		}
		best[s.Pos] = s.Power
		q = append(q, s)
	}

	for head := 0; head < len(q); head++ {
		cur := q[head]
		if cur.Power < best[cur.Pos] {
			// A stronger path reached this cell after it was queued.
			continue
		}
		next := cur.Power - 1
		if next <= 0 {
			continue
		}
		for _, d := range cardinalDirs {
			np := Pos{X: cur.Pos.X + d.X, Y: cur.Pos.Y + d.Y}
			if !env.Conductor(np) {
				continue
			}
			if next <= best[np] {
				continue
			}
			best[np] = next
			q = append(q, Seed{Pos: np, Power: next})
		}
	}
	return best
}
