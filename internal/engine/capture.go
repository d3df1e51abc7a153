package engine

import (
	"context"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal"
	"codeberg.org/teralab/teractl/internal/hal/teraflash"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/registry"
)

// MetadataKey is the status entry carrying the step metadata.
const MetadataKey = "Metadata"

// THz is the acquisition capability the capture engine needs from the THz
// instrument.
type THz interface {
	hal.Instrument
	Acquire(ctx context.Context) (*data.Waveform, error)
	BeginAveraging() error
	IsAveragingDone() (bool, error)
	EndAveraging() error
	ReadTACTime() (float64, error)
	Timeout() time.Duration
}

// Capture builds atoms from the registered instruments and drives the THz
// instrument's averaging lifecycle.
type Capture struct {
	registry   *registry.Registry
	thzName    string
	log        logger.Logger
	errFactory errors.Factory
}

// NewCapture returns a capture engine acquiring from the instrument
// registered as thzName.
func NewCapture(reg *registry.Registry, thzName string) *Capture {
	return &Capture{
		registry:   reg,
		thzName:    thzName,
		log:        logger.Component("capture"),
		errFactory: errors.New(),
	}
}

func (c *Capture) thz() (THz, error) {
	inst, err := c.registry.Get(c.thzName)
	if err != nil {
		return nil, c.errFactory.Wrap(ErrNoTHz, err)
	}
	thz, ok := inst.(THz)
	if !ok {
		return nil, c.errFactory.WithData(ErrWrongInstrument, c.thzName)
	}
	return thz, nil
}

// Capture snapshots every registered instrument, then acquires one
// waveform. The status carries meta under MetadataKey.
func (c *Capture) Capture(ctx context.Context, meta map[string]any, index int) (*data.Atom, error) {
	thz, err := c.thz()
	if err != nil {
		return nil, err
	}

	atom, err := data.Capture(index,
		func() map[string]any { return c.readStatus(meta) },
		func() (data.Payload, error) { return thz.Acquire(ctx) },
	)
	if err != nil {
		c.log.Error().Err(err).Int("index", index).Msg("Capture failed")
		return nil, err
	}
	return atom, nil
}

func (c *Capture) readStatus(meta map[string]any) map[string]any {
	status := map[string]any{MetadataKey: meta}
	for _, name := range c.registry.Names() {
		s, err := c.registry.Describe(name)
		if err != nil {
			c.log.Warn().Err(err).Str("instrument", name).Msg("Status unavailable")
			status[name] = nil
			continue
		}
		status[name] = s
	}
	return status
}

func (c *Capture) BeginAveraging() error {
	thz, err := c.thz()
	if err != nil {
		return err
	}
	return thz.BeginAveraging()
}

func (c *Capture) IsAveragingDone() (bool, error) {
	thz, err := c.thz()
	if err != nil {
		return false, err
	}
	return thz.IsAveragingDone()
}

func (c *Capture) EndAveraging() error {
	thz, err := c.thz()
	if err != nil {
		return err
	}
	return thz.EndAveraging()
}

// EstimateTimeout returns the averaging timeout, max(timeout, 2*TAC+3s).
// If the TAC time cannot be read the THz client's timeout is returned.
func (c *Capture) EstimateTimeout() (time.Duration, error) {
	thz, err := c.thz()
	if err != nil {
		return 0, err
	}

	tac, err := thz.ReadTACTime()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read TAC.TIME; using default timeout")
		return thz.Timeout(), nil
	}
	return teraflash.EstimateAveragingTimeout(thz.Timeout(), tac), nil
}
