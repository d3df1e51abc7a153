package sweep

import (
	"codeberg.org/teralab/teractl/internal/engine"
	"codeberg.org/teralab/teractl/internal/logger"
)

// Temperature steps the setpoint of a temperature loop. It does not wait
// for the sample to follow; use the dwell for that.
type Temperature struct {
	base
	engine *engine.Temperature
	log    logger.Logger
}

func NewTemperature(e *engine.Temperature) *Temperature {
	return &Temperature{
		base:   base{name: "temperature", unit: "K", decimals: 1},
		engine: e,
		log:    logger.Component("axis-temperature"),
	}
}

func (t *Temperature) Goto(kelvin float64) error {
	if err := t.engine.BeginControl(kelvin); err != nil {
		return err
	}
	t.log.Debug().Float64("setpoint_K", kelvin).Msg("Setpoint applied")
	t.setCurrent(kelvin)
	return nil
}

// Read returns the measured temperature.
func (t *Temperature) Read() (float64, error) {
	return t.engine.Read()
}
