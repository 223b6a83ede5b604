package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"circuitsandbox.dev/internal/sim/grid"
)

type Tuning struct {
	GridSize       int  `yaml:"grid_size"`
	TickIntervalMs int  `yaml:"tick_interval_ms"`
	DayLengthTicks int  `yaml:"day_length_ticks"`
	StartDayTime   int  `yaml:"start_day_time"`
	TNTDestructive bool `yaml:"tnt_destructive"`

	// ButtonHoldTicks is how long a pressed button stays down before the
	// runtime releases it.
	ButtonHoldTicks    int `yaml:"button_hold_ticks"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	// SnapshotKeep bounds the snapshots directory; older files move to the
	// archive. Zero keeps everything in place.
	SnapshotKeep   int `yaml:"snapshot_keep"`
	MaxClientQueue int `yaml:"max_client_queue"`
}

func Defaults() Tuning {
	return Tuning{
		GridSize:           grid.DefaultSize,
		TickIntervalMs:     100,
		DayLengthTicks:     grid.DayLength,
		StartDayTime:       600,
		TNTDestructive:     true,
		ButtonHoldTicks:    15,
		SnapshotEveryTicks: 3000,
		SnapshotKeep:       20,
		MaxClientQueue:     64,
	}
}

// Load reads path on top of Defaults, so a file only needs the keys it
// changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.GridSize < 1 {
		errs = append(errs, fmt.Errorf("grid_size must be positive, got %d", t.GridSize))
	}
	if t.TickIntervalMs < 1 {
		errs = append(errs, fmt.Errorf("tick_interval_ms must be positive, got %d", t.TickIntervalMs))
	}
	if t.DayLengthTicks != grid.DayLength {
		errs = append(errs, fmt.Errorf("day_length_ticks must be %d, got %d", grid.DayLength, t.DayLengthTicks))
	}
	if t.StartDayTime < 0 || t.StartDayTime >= grid.DayLength {
		errs = append(errs, fmt.Errorf("start_day_time out of range: %d", t.StartDayTime))
	}
	if t.ButtonHoldTicks < 1 {
		errs = append(errs, fmt.Errorf("button_hold_ticks must be positive, got %d", t.ButtonHoldTicks))
	}
	if t.SnapshotEveryTicks < 0 {
		errs = append(errs, fmt.Errorf("snapshot_every_ticks must not be negative, got %d", t.SnapshotEveryTicks))
	}
	if t.SnapshotKeep < 0 {
		errs = append(errs, fmt.Errorf("snapshot_keep must not be negative, got %d", t.SnapshotKeep))
	}
	if t.MaxClientQueue < 1 {
		errs = append(errs, fmt.Errorf("max_client_queue must be positive, got %d", t.MaxClientQueue))
	}
	return errors.Join(errs...)
}

func (t Tuning) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMs) * time.Millisecond
}

// Settings is the engine view of the tuning at startup.
func (t Tuning) Settings() grid.Settings {
	return grid.Settings{DayTime: t.StartDayTime, TNTDestructive: t.TNTDestructive}
}
