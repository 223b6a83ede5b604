package grid

import "fmt"

// Interaction entry points. They must only be applied between ticks.

// Toggle performs the primary interaction for the tile at c. It reports
// whether the tile changed.
func Toggle(g Grid, c Coord) (bool, error) {
	t, ok := g.Get(c)
	if !ok {
		return false, fmt.Errorf("toggle %s: %w", c, ErrEmpty)
	}
	switch t.Kind {
	case Lever:
		t.Active = !t.Active
	case Button:
		if t.Active {
			return false, nil
		}
		t.Active = true
	case DaylightSensor:
		t.Inverted = !t.Inverted
	case Target, SculkSensor:
		t.Active = true
		t.Cooldown = ArmTicks
	case Comparator:
		if t.Mode == Subtract {
			t.Mode = Compare
		} else {
			t.Mode = Subtract
		}
	case NoteBlock:
		t.Pitch = (t.Pitch + 1) % Pitches
	case Antenna, Receiver:
		t.Channel = (t.Channel + 1) % Channels
	default:
		return false, nil
	}
	g.Set(c, t)
	return true, nil
}

// Release lets go of a pressed button.
func Release(g Grid, c Coord) bool {
	t, ok := g.Get(c)
	if !ok || t.Kind != Button || !t.Active {
		return false
	}
	t.Active = false
	g.Set(c, t)
	return true
}

// Step sets a pressure plate's occupancy.
func Step(g Grid, c Coord, on bool) bool {
	t, ok := g.Get(c)
	if !ok || t.Kind != PressurePlate || t.Active == on {
		return false
	}
	t.Active = on
	g.Set(c, t)
	return true
}

// CycleDelay advances a repeater's delay 1 -> 2 -> 3 -> 4 -> 1.
func CycleDelay(g Grid, c Coord) (bool, error) {
	t, ok := g.Get(c)
	if !ok {
		return false, fmt.Errorf("cycle delay %s: %w", c, ErrEmpty)
	}
	if t.Kind != Repeater {
		return false, nil
	}
	if t.Delay < 1 {
		t.Delay = 1
	}
	t.Delay = t.Delay%MaxDelay + 1
	g.Set(c, t)
	return true, nil
}

// Rotate turns the tile at c clockwise.
func Rotate(g Grid, c Coord) error {
	t, ok := g.Get(c)
	if !ok {
		return fmt.Errorf("rotate %s: %w", c, ErrEmpty)
	}
	t.Facing = t.Facing.Next()
	g.Set(c, t)
	return nil
}

// Delete removes the tile at c. Deleting an extended piston also removes
// its head.
func Delete(g Grid, c Coord) error {
	t, ok := g.Get(c)
	if !ok {
		return fmt.Errorf("delete %s: %w", c, ErrEmpty)
	}
	g.Delete(c)
	if t.Kind.IsPiston() && t.Active {
		dropHead(g, c, t.Facing)
	}
	return nil
}

// Move relocates the tile at from to the empty cell to. An extended piston
// is retracted on the way: its head is removed and it arrives inactive.
func Move(g Grid, from, to Coord) error {
	if !g.InBounds(to) {
		return fmt.Errorf("move to %s: %w", to, ErrOutOfBounds)
	}
	t, ok := g.Get(from)
	if !ok {
		return fmt.Errorf("move %s: %w", from, ErrEmpty)
	}
	if from == to {
		return nil
	}
	if g.KindAt(to) != Air {
		return fmt.Errorf("move to %s: %w", to, ErrOccupied)
	}
	g.Delete(from)
	if t.Kind.IsPiston() && t.Active {
		dropHead(g, from, t.Facing)
		t.Active = false
	}
	g.Set(to, t)
	return nil
}

func dropHead(g Grid, piston Coord, f Facing) {
	head := piston.Step(f)
	if g.KindAt(head) == PistonHead {
		g.Delete(head)
	}
}
