package sweep

import (
	"math"
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/engine"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
)

// FieldSettings tunes how long the field axis waits for the magnet.
type FieldSettings struct {
	// SafetyMargin multiplies the ramp time computed from the sweep rate
	// plus the stabilization time.
	SafetyMargin float64
	// Stabilization is how long the supply must report HOLD before the
	// field counts as settled.
	Stabilization time.Duration
	// SettleSlack is added to every estimate, so a step that needs no ramp
	// still tolerates a late first HOLD.
	SettleSlack time.Duration
	// MaxSettle is used when the ramp rate cannot be read.
	MaxSettle time.Duration
}

func DefaultFieldSettings() FieldSettings {
	return FieldSettings{
		SafetyMargin:  1.3,
		Stabilization: 15 * time.Second,
		SettleSlack:   30 * time.Second,
		MaxSettle:     30 * time.Minute,
	}
}

func (s FieldSettings) validate() error {
	if s.SafetyMargin < 1 || s.Stabilization < 0 || s.SettleSlack < 0 || s.MaxSettle <= 0 {
		return errors.New().WithData(ErrInvalidSetting, s)
	}
	return nil
}

// Field ramps a superconducting magnet to each point. It is the only
// blocking axis.
type Field struct {
	base
	engine   *engine.Field
	settings FieldSettings
	now      func() time.Time
	log      logger.Logger

	state     sync.Mutex
	from      float64
	holdSince time.Time
	shutdown  bool
}

func NewField(e *engine.Field, settings FieldSettings) (*Field, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &Field{
		base:     base{name: "field", unit: "T", decimals: 3},
		engine:   e,
		settings: settings,
		now:      time.Now,
		log:      logger.Component("axis-field"),
	}, nil
}

func (f *Field) Blocking() bool { return true }

// Goto records the present field for the settle estimate, then sets the
// target and starts the ramp.
func (f *Field) Goto(tesla float64) error {
	from, err := f.engine.ReadField()
	if err != nil {
		f.log.Warn().Err(err).Msg("Present field unavailable; settle estimate falls back to the maximum")
		from = math.NaN()
	}

	if err := f.engine.SetTargetField(tesla); err != nil {
		return err
	}
	if err := f.engine.GotoSet(); err != nil {
		return err
	}

	f.state.Lock()
	f.from = from
	f.holdSince = time.Time{}
	f.state.Unlock()

	f.log.Info().Float64("from_T", from).Float64("target_T", tesla).Msg("Ramping field")
	f.setCurrent(tesla)
	return nil
}

// Read returns the measured field.
func (f *Field) Read() (float64, error) {
	return f.engine.ReadField()
}

// IsReady reports whether the supply has held for the stabilization time.
func (f *Field) IsReady() (bool, error) {
	holding, err := f.engine.IsHolding()
	if err != nil {
		return false, err
	}

	f.state.Lock()
	defer f.state.Unlock()

	if !holding {
		f.holdSince = time.Time{}
		return false, nil
	}
	now := f.now()
	if f.holdSince.IsZero() {
		f.holdSince = now
	}
	return now.Sub(f.holdSince) >= f.settings.Stabilization, nil
}

// EstimateSettle returns the ramp time |target-from| / rate plus the
// stabilization time, scaled by the safety margin, plus the settle slack.
func (f *Field) EstimateSettle(tesla float64) time.Duration {
	f.state.Lock()
	from := f.from
	f.state.Unlock()

	rate, err := f.engine.ReadFieldRate()
	if err != nil || rate <= 0 || math.IsNaN(from) {
		f.log.Warn().Err(err).Float64("rate_T_min", rate).Msg("Using maximum settle time")
		return f.settings.MaxSettle
	}

	ramp := math.Abs(tesla-from) / rate * 60
	seconds := (ramp + f.settings.Stabilization.Seconds()) * f.settings.SafetyMargin
	return time.Duration(seconds*float64(time.Second)) + f.settings.SettleSlack
}

// Shutdown holds the supply at its present field.
func (f *Field) Shutdown() error {
	f.state.Lock()
	if f.shutdown {
		f.state.Unlock()
		return nil
	}
	f.shutdown = true
	f.state.Unlock()

	f.log.Info().Msg("Holding field")
	return f.engine.Hold()
}
