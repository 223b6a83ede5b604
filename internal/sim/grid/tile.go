package grid

const (
	MaxPower = 15

	MaxFluidLevel = 7
	MaxDelay      = 4
	Channels      = 10
	Pitches       = 25

	// FuseTicks is how many armed ticks a TNT counts down before detonating.
	FuseTicks = 40
	// ArmTicks is how long a struck target or sculk sensor stays active.
	ArmTicks = 8
)

type ComparatorMode string

const (
	Compare  ComparatorMode = "COMPARE"
	Subtract ComparatorMode = "SUBTRACT"
)

// Tile is one occupied cell. The zero value of every kind-specific field is
// a valid default; fields that do not apply to Kind are ignored by the engine.
type Tile struct {
	Kind   Kind   `json:"kind"`
	Power  int    `json:"power"`
	Facing Facing `json:"facing"`
	Active bool   `json:"active"`

	// Repeater delay line; Cooldown is shared with TNT, target and sculk.
	Delay    int  `json:"delay,omitempty"`
	Pending  bool `json:"pending,omitempty"`
	Cooldown int  `json:"cooldown,omitempty"`

	// TNT fuse lit.
	Lit bool `json:"lit,omitempty"`

	Mode ComparatorMode `json:"mode,omitempty"`

	Level  int  `json:"level,omitempty"`
	Source bool `json:"source,omitempty"`

	ObservedKind   Kind `json:"observed_kind,omitempty"`
	ObservedPower  int  `json:"observed_power,omitempty"`
	ObservedActive bool `json:"observed_active,omitempty"`

	Value    int  `json:"value,omitempty"`
	Channel  int  `json:"channel,omitempty"`
	Contents Kind `json:"contents,omitempty"`
	Pitch    int  `json:"pitch,omitempty"`
	Inverted bool `json:"inverted,omitempty"`
}

func ClampPower(p int) int {
	if p < 0 {
		return 0
	}
	if p > MaxPower {
		return MaxPower
	}
	return p
}

// Settings are the global inputs of one tick.
type Settings struct {
	// DayTime is in [0, DayLength); the caller advances and wraps it.
	DayTime        int  `json:"day_time" yaml:"day_time"`
	TNTDestructive bool `json:"tnt_destructive" yaml:"tnt_destructive"`
}

// DayLength is one full day/night cycle in ticks.
const DayLength = 2400
