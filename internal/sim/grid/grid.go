package grid

import "sort"

// Grid is a sparse square board. A missing coordinate is air.
type Grid struct {
	Size  int
	tiles map[Coord]Tile
}

func New(size int) Grid {
	if size <= 0 {
		size = DefaultSize
	}
	return Grid{Size: size, tiles: make(map[Coord]Tile)}
}

func (g Grid) InBounds(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.Size && c.Y < g.Size
}

func (g Grid) Get(c Coord) (Tile, bool) {
	t, ok := g.tiles[c]
	return t, ok
}

// KindAt returns Air for empty cells.
func (g Grid) KindAt(c Coord) Kind {
	if t, ok := g.tiles[c]; ok {
		return t.Kind
	}
	return Air
}

// PowerAt returns 0 for empty cells.
func (g Grid) PowerAt(c Coord) int { return g.tiles[c].Power }

// Set stores t at c. Air tiles are treated as a delete.
func (g Grid) Set(c Coord, t Tile) {
	if t.Kind == "" || t.Kind == Air {
		delete(g.tiles, c)
		return
	}
	g.tiles[c] = t
}

func (g Grid) Delete(c Coord) { delete(g.tiles, c) }

func (g Grid) Len() int { return len(g.tiles) }

// Coords returns occupied coordinates in row-major scan order (y, then x).
// Order-sensitive passes iterate in this order.
func (g Grid) Coords() []Coord {
	out := make([]Coord, 0, len(g.tiles))
	for c := range g.tiles {
		out = append(out, c)
	}
	SortCoords(out)
	return out
}

func SortCoords(cs []Coord) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Y != cs[j].Y {
			return cs[i].Y < cs[j].Y
		}
		return cs[i].X < cs[j].X
	})
}

// Clone returns an independent copy. Tiles are values so no deep copy is
// needed beyond the map itself.
func (g Grid) Clone() Grid {
	out := Grid{Size: g.Size, tiles: make(map[Coord]Tile, len(g.tiles))}
	for c, t := range g.tiles {
		out.tiles[c] = t
	}
	return out
}

// Each visits tiles in scan order.
func (g Grid) Each(fn func(Coord, Tile)) {
	for _, c := range g.Coords() {
		fn(c, g.tiles[c])
	}
}
