package grid

import "sort"

type Kind string

const (
	Air Kind = "AIR"

	Dust Kind = "DUST"

	Lever         Kind = "LEVER"
	Button        Kind = "BUTTON"
	PressurePlate Kind = "PRESSURE_PLATE"
	RedstoneBlock Kind = "REDSTONE_BLOCK"
	Counter       Kind = "COUNTER"

	Repeater   Kind = "REPEATER"
	Comparator Kind = "COMPARATOR"
	Observer   Kind = "OBSERVER"
	Torch      Kind = "TORCH"

	DaylightSensor Kind = "DAYLIGHT_SENSOR"
	SculkSensor    Kind = "SCULK_SENSOR"
	Target         Kind = "TARGET"

	Piston       Kind = "PISTON"
	StickyPiston Kind = "STICKY_PISTON"
	PistonHead   Kind = "PISTON_HEAD"

	Water Kind = "WATER"
	Lava  Kind = "LAVA"

	Dispenser Kind = "DISPENSER"

	Antenna  Kind = "ANTENNA"
	Receiver Kind = "RECEIVER"

	Block     Kind = "BLOCK"
	Glass     Kind = "GLASS"
	Slime     Kind = "SLIME"
	Obsidian  Kind = "OBSIDIAN"
	Lamp      Kind = "LAMP"
	NoteBlock Kind = "NOTE_BLOCK"
	TNT       Kind = "TNT"
)

type kindInfo struct {
	solid       bool
	immovable   bool
	replaceable bool
	directional bool
	consumer    bool
}

var kinds = map[Kind]kindInfo{
	Dust:           {replaceable: true},
	Lever:          {replaceable: true},
	Button:         {replaceable: true},
	PressurePlate:  {replaceable: true},
	RedstoneBlock:  {solid: true},
	Counter:        {solid: true},
	Repeater:       {replaceable: true, directional: true},
	Comparator:     {replaceable: true, directional: true},
	Observer:       {solid: true, directional: true},
	Torch:          {replaceable: true, directional: true},
	DaylightSensor: {solid: true},
	SculkSensor:    {solid: true},
	Target:         {solid: true},
	Piston:         {solid: true, consumer: true},
	StickyPiston:   {solid: true, consumer: true},
	PistonHead:     {solid: true, immovable: true},
	Water:          {},
	Lava:           {},
	Dispenser:      {solid: true, consumer: true},
	Antenna:        {solid: true, consumer: true},
	Receiver:       {solid: true},
	Block:          {solid: true},
	Glass:          {solid: true},
	Slime:          {solid: true},
	Obsidian:       {solid: true, immovable: true},
	Lamp:           {solid: true, consumer: true},
	NoteBlock:      {solid: true, consumer: true},
	TNT:            {solid: true, consumer: true},
}

// Known reports whether k is a placeable kind. Air is not.
func (k Kind) Known() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) Solid() bool { return kinds[k].solid }

// Immovable kinds abort any adhesion or push search that reaches them.
func (k Kind) Immovable() bool { return k == Air || kinds[k].immovable }

// Replaceable kinds are overwritten by flowing fluid. Air counts.
func (k Kind) Replaceable() bool { return k == Air || kinds[k].replaceable }

// Directional emitters hard-power only the solid tile they face.
func (k Kind) Directional() bool { return kinds[k].directional }

// Consumer kinds take their active flag from neighboring power.
func (k Kind) Consumer() bool { return kinds[k].consumer }

func (k Kind) Fluid() bool { return k == Water || k == Lava }

func (k Kind) IsPiston() bool { return k == Piston || k == StickyPiston }

// Kinds returns every placeable kind, sorted by name.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
