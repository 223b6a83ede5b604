package adhesion

import "sort"

// PushLimit is the largest group a single piston can move.
const PushLimit = 12

type Pos struct {
	X int
	Y int
}

func (p Pos) add(d Pos) Pos { return Pos{X: p.X + d.X, Y: p.Y + d.Y} }

type Env interface {
	// Occupied reports a non-air cell.
	Occupied(Pos) bool
	// Sticky cells bind every occupied orthogonal neighbor into their group.
	Sticky(Pos) bool
	// Immovable cells abort any search that needs to move them.
	Immovable(Pos) bool
	// Head cells are piston heads: never part of a group, never glued.
	Head(Pos) bool
	InBounds(Pos) bool
}

var cardinalDirs = []Pos{
	{X: 0, Y: -1},
	{X: 0, Y: 1},
	{X: -1, Y: 0},
	{X: 1, Y: 0},
}

// Group returns start plus every tile glued to it through sticky tiles,
// never entering exclude. An empty start (or a head) yields an empty group.
// ok is false when an immovable tile is glued in or the group grows past
// limit.
func Group(env Env, start, exclude Pos, limit int) (members []Pos, ok bool) {
	set, ok := group(env, start, exclude, limit)
	if !ok {
		return nil, false
	}
	return sorted(set), true
}

func group(env Env, start, exclude Pos, limit int) (map[Pos]bool, bool) {
	if !env.Occupied(start) || env.Head(start) {
		return map[Pos]bool{}, true
	}
	if env.Immovable(start) {
		return nil, false
	}
	set := map[Pos]bool{start: true}
	q := []Pos{start}
	for head := 0; head < len(q); head++ {
		cur := q[head]
		curSticky := env.Sticky(cur)
		for _, d := range cardinalDirs {
			np := cur.add(d)
			if np == exclude || set[np] {
				continue
			}
			if !env.Occupied(np) || env.Head(np) {
				continue
			}
			if !curSticky && !env.Sticky(np) {
				continue
			}
			if env.Immovable(np) {
				return nil, false
			}
			set[np] = true
			q = append(q, np)
		}
		if len(set) > limit {
			return nil, false
		}
	}
	return set, true
}

// PushGroup resolves everything a piston at piston would shove one cell in
// direction dir: the tile in front, its glued group, and every tile in
// front of any member, closed transitively. ok is false if the push is
// blocked: an immovable tile in the way, more than limit tiles, or a
// destination off the board or occupied by a non-member.
func PushGroup(env Env, piston, dir Pos, limit int) (members []Pos, ok bool) {
	front := piston.add(dir)
	if !env.Occupied(front) {
		return nil, true
	}
	if env.Immovable(front) {
		return nil, false
	}
	set, ok := group(env, front, piston, limit)
	if !ok {
		return nil, false
	}

	for changed := true; changed; {
		changed = false
		for _, m := range sorted(set) {
			ahead := m.add(dir)
			if set[ahead] || !env.Occupied(ahead) {
				continue
			}
			if env.Immovable(ahead) {
				return nil, false
			}
			added, ok := group(env, ahead, piston, limit)
			if !ok {
				return nil, false
			}
			for p := range added {
				if !set[p] {
					set[p] = true
					changed = true
				}
			}
		}
		if len(set) > limit {
			return nil, false
		}
	}

	members = sorted(set)
	if !Fits(env, members, dir) {
		return nil, false
	}
	return members, true
}

// Fits reports whether every member can shift by dir without leaving the
// board or landing on a non-member.
func Fits(env Env, members []Pos, dir Pos) bool {
	set := make(map[Pos]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	for _, m := range members {
		dst := m.add(dir)
		if !env.InBounds(dst) {
			return false
		}
		if env.Occupied(dst) && !set[dst] {
			return false
		}
	}
	return true
}

func sorted(set map[Pos]bool) []Pos {
	out := make([]Pos, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
