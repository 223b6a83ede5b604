package grid

import (
	"encoding/json"
	"fmt"
)

// Document is the persisted form of a grid: tiles keyed by "x,y".
type Document struct {
	Size  int             `json:"size"`
	Tiles map[string]Tile `json:"tiles"`
}

func (g Grid) Document() Document {
	doc := Document{Size: g.Size, Tiles: make(map[string]Tile, len(g.tiles))}
	for c, t := range g.tiles {
		doc.Tiles[c.Key()] = t
	}
	return doc
}

// FromDocument validates doc and builds a grid from it. Nothing is returned
// on error so a caller's live grid stays untouched.
func FromDocument(doc Document) (Grid, error) {
	if doc.Size <= 0 {
		doc.Size = DefaultSize
	}
	g := New(doc.Size)
	for key, t := range doc.Tiles {
		c, err := ParseKey(key)
		if err != nil {
			return Grid{}, err
		}
		if !g.InBounds(c) {
			return Grid{}, fmt.Errorf("tile %s: %w", key, ErrOutOfBounds)
		}
		if !t.Kind.Known() {
			return Grid{}, fmt.Errorf("tile %s kind %q: %w", key, t.Kind, ErrUnknownKind)
		}
		if !t.Facing.Valid() {
			t.Facing = North
		}
		t.Power = ClampPower(t.Power)
		g.tiles[c] = t
	}
	return g, nil
}

func (g Grid) MarshalJSON() ([]byte, error) { return json.Marshal(g.Document()) }

func (g *Grid) UnmarshalJSON(b []byte) error {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	out, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*g = out
	return nil
}
