package engine

import (
	"math"

	"circuitsandbox.dev/internal/sim/grid"
)

// view is the read-only previous grid handed to every component rule.
type view struct {
	g        grid.Grid
	s        grid.Settings
	channels map[int]bool
}

func (v view) tile(c grid.Coord) (grid.Tile, bool) { return v.g.Get(c) }

func (v view) power(c grid.Coord) int { return v.g.PowerAt(c) }

func (v view) anyNeighborPowered(c grid.Coord) bool {
	for _, n := range c.Neighbors() {
		if v.power(n) > 0 {
			return true
		}
	}
	return false
}

// activeChannels collects every wireless channel with an active antenna.
// It is rebuilt from scratch each tick.
func activeChannels(g grid.Grid) map[int]bool {
	out := map[int]bool{}
	g.Each(func(_ grid.Coord, t grid.Tile) {
		if t.Kind == grid.Antenna && t.Active {
			out[t.Channel] = true
		}
	})
	return out
}

func evaluateComponents(prev grid.Grid, s grid.Settings) grid.Grid {
	v := view{g: prev, s: s, channels: activeChannels(prev)}
	next := grid.New(prev.Size)
	prev.Each(func(c grid.Coord, t grid.Tile) {
		nt := evaluate(v, c, t)
		nt.Power = grid.ClampPower(nt.Power)
		next.Set(c, nt)
	})
	return next
}

// evaluate dispatches to the rule for t.Kind. Kinds without a rule keep
// their active flag and drop to zero power; dust and hard-powered solids
// get their power back from propagation.
func evaluate(v view, c grid.Coord, t grid.Tile) grid.Tile {
	switch t.Kind {
	case grid.Lever, grid.Button, grid.PressurePlate:
		return evalSwitch(t)
	case grid.RedstoneBlock:
		t.Power = grid.MaxPower
		return t
	case grid.Counter:
		return evalCounter(t)
	case grid.Torch:
		return evalTorch(v, c, t)
	case grid.Repeater:
		return evalRepeater(v, c, t)
	case grid.Comparator:
		return evalComparator(v, c, t)
	case grid.Observer:
		return evalObserver(v, c, t)
	case grid.DaylightSensor:
		return evalDaylight(v, t)
	case grid.SculkSensor, grid.Target:
		return evalArmed(t)
	case grid.TNT:
		return evalTNT(v, c, t)
	case grid.Receiver:
		return evalReceiver(v, t)
	default:
		t.Power = 0
		return t
	}
}

func evalSwitch(t grid.Tile) grid.Tile {
	t.Power = onOff(t.Active)
	return t
}

func evalCounter(t grid.Tile) grid.Tile {
	if t.Value < 0 {
		t.Value = 0
	}
	t.Value = t.Value%grid.MaxPower + 1
	t.Active = true
	t.Power = t.Value
	return t
}

// A torch is an inverter on the solid block it hangs from.
func evalTorch(v view, c grid.Coord, t grid.Tile) grid.Tile {
	attached, ok := v.tile(c.Step(t.Facing.Opposite()))
	powered := ok && attached.Kind.Solid() && attached.Power > 0
	t.Active = !powered
	t.Power = onOff(t.Active)
	return t
}

func evalRepeater(v view, c grid.Coord, t grid.Tile) grid.Tile {
	input := v.power(c.Step(t.Facing.Opposite())) > 0
	if t.Delay < 1 {
		t.Delay = 1
	}
	if input != t.Pending {
		t.Pending = input
		t.Cooldown = t.Delay
	}
	if t.Cooldown > 0 {
		t.Cooldown--
		if t.Cooldown == 0 {
			t.Active = t.Pending
		}
	}
	t.Power = onOff(t.Active)
	return t
}

func evalComparator(v view, c grid.Coord, t grid.Tile) grid.Tile {
	input := v.power(c.Step(t.Facing.Opposite()))
	a, b := t.Facing.Sides()
	side := max(v.power(c.Step(a)), v.power(c.Step(b)))

	out := 0
	if t.Mode == grid.Subtract {
		out = max(0, input-side)
	} else if input >= side {
		out = input
	}
	t.Power = out
	t.Active = out > 0
	return t
}

// An observer fires a one-tick pulse when the cell it faces changes.
func evalObserver(v view, c grid.Coord, t grid.Tile) grid.Tile {
	seen, ok := v.tile(c.Step(t.Facing))
	kind := grid.Air
	if ok {
		kind = seen.Kind
	}
	observed := t.ObservedKind
	if observed == "" {
		observed = grid.Air
	}
	changed := kind != observed || seen.Power != t.ObservedPower || seen.Active != t.ObservedActive

	if changed && !t.Active {
		t.Active = true
		t.Power = grid.MaxPower
	} else {
		t.Active = false
		t.Power = 0
	}
	t.ObservedKind = kind
	t.ObservedPower = seen.Power
	t.ObservedActive = seen.Active
	return t
}

func evalDaylight(v view, t grid.Tile) grid.Tile {
	t.Power = daylight(v.s.DayTime, t.Inverted)
	t.Active = t.Power > 0
	return t
}

// daylight is a half sine over the day half of the cycle, or over the night
// half when inverted.
func daylight(dayTime int, inverted bool) int {
	half := grid.DayLength / 2
	t := ((dayTime % grid.DayLength) + grid.DayLength) % grid.DayLength
	if inverted {
		if t < half {
			return 0
		}
		t -= half
	} else if t >= half {
		return 0
	}
	return max(0, int(math.Floor(grid.MaxPower*math.Sin(math.Pi*float64(t)/float64(half)))))
}

func evalArmed(t grid.Tile) grid.Tile {
	if !t.Active {
		t.Power = 0
		return t
	}
	t.Power = grid.MaxPower
	t.Cooldown--
	if t.Cooldown <= 0 {
		t.Active = false
		t.Cooldown = 0
	}
	return t
}

func evalTNT(v view, c grid.Coord, t grid.Tile) grid.Tile {
	t.Power = 0
	if !t.Active && !t.Lit && !v.anyNeighborPowered(c) {
		return t
	}
	t.Active = true
	if !t.Lit {
		t.Lit = true
		t.Cooldown = grid.FuseTicks
	}
	t.Cooldown--
	return t
}

func evalReceiver(v view, t grid.Tile) grid.Tile {
	t.Active = v.channels[t.Channel]
	t.Power = onOff(t.Active)
	return t
}

func onOff(on bool) int {
	if on {
		return grid.MaxPower
	}
	return 0
}
