package sweep

import (
	"math"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
)

// Config is an immutable one-dimensional sweep definition.
type Config struct {
	Axis  Axis
	Start float64
	Stop  float64
	Step  float64
	Dwell time.Duration
}

// NewConfig validates the definition. The step must be non-zero and point
// from start toward stop; a single-point sweep needs a positive step.
func NewConfig(axis Axis, start, stop, step float64, dwell time.Duration) (Config, error) {
	f := errors.New()
	switch {
	case axis == nil:
		return Config{}, f.New(ErrNoAxis)
	case step == 0 || math.IsNaN(step):
		return Config{}, f.New(ErrZeroStep)
	case step < 0 && stop >= start, step > 0 && stop < start:
		return Config{}, f.WithData(ErrStepDirection, map[string]float64{"start": start, "stop": stop, "step": step})
	case dwell < 0:
		return Config{}, f.WithData(ErrNegativeDwell, dwell)
	}
	return Config{Axis: axis, Start: start, Stop: stop, Step: step, Dwell: dwell}, nil
}

// Points returns start, start+step, ... up to and including the last value
// within |step|*1e-12 of stop.
func (c Config) Points() []float64 {
	eps := math.Abs(c.Step) * 1e-12
	var out []float64
	for i := 0; ; i++ {
		x := c.Start + float64(i)*c.Step
		if c.Step > 0 && x > c.Stop+eps {
			break
		}
		if c.Step < 0 && x < c.Stop-eps {
			break
		}
		out = append(out, x)
	}
	return out
}

func (c Config) NPoints() int {
	return len(c.Points())
}

// Describe returns the sweep metadata attached to the run.
func (c Config) Describe() map[string]any {
	return map[string]any{
		"axis":    c.Axis.Name(),
		"start":   c.Start,
		"stop":    c.Stop,
		"step":    c.Step,
		"unit":    c.Axis.Unit(),
		"dwell_s": c.Dwell.Seconds(),
		"npoints": c.NPoints(),
	}
}
