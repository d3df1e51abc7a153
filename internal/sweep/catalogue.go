package sweep

import (
	"sort"
	"time"

	"codeberg.org/teralab/teractl/internal/engine"
	"codeberg.org/teralab/teractl/internal/errors"
)

// Engines holds what the hardware-backed axes drive. Entries may be nil
// when the instrument is not configured.
type Engines struct {
	Temperature *engine.Temperature
	Field       *engine.Field
	Settings    FieldSettings
}

// Defaults are the suggested sweep parameters for an axis.
type Defaults struct {
	Start float64
	Stop  float64
	Step  float64
	Dwell time.Duration
}

type entry struct {
	build    func(Engines) (Axis, error)
	defaults *Defaults
}

var catalogue = map[string]entry{
	"count": {
		build:    func(Engines) (Axis, error) { return NewCount(), nil },
		defaults: &Defaults{Start: 0, Stop: 9, Step: 1, Dwell: time.Second},
	},
	"temperature": {
		build: func(e Engines) (Axis, error) {
			if e.Temperature == nil {
				return nil, errors.New().WithData(ErrMissingEngine, "temperature")
			}
			return NewTemperature(e.Temperature), nil
		},
	},
	"field": {
		build: func(e Engines) (Axis, error) {
			if e.Field == nil {
				return nil, errors.New().WithData(ErrMissingEngine, "field")
			}
			return NewField(e.Field, e.Settings)
		},
	},
}

// Names returns the catalogue's axis names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAxis builds the named axis.
func NewAxis(name string, e Engines) (Axis, error) {
	ent, ok := catalogue[name]
	if !ok {
		return nil, errors.New().WithData(ErrUnknownAxis, name)
	}
	return ent.build(e)
}

// DefaultsFor returns the suggested parameters for the named axis, if any.
func DefaultsFor(name string) (Defaults, bool) {
	ent, ok := catalogue[name]
	if !ok || ent.defaults == nil {
		return Defaults{}, false
	}
	return *ent.defaults, true
}
