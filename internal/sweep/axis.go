// Package sweep defines the degrees of freedom an experiment can vary and
// the point sequence a run walks through.
package sweep

import (
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
)

// Axis is one controllable experimental quantity.
//
// Goto commands the axis and returns without waiting. Blocking axes need
// time to reach a new value: the runner polls IsReady until it reports true
// or EstimateSettle elapses. Shutdown leaves the hardware in a safe state
// and is called once at the end of a run.
type Axis interface {
	Name() string
	Unit() string
	Goto(value float64) error
	Read() (float64, error)
	IsReady() (bool, error)
	EstimateSettle(value float64) time.Duration
	Blocking() bool
	Shutdown() error
	Describe(value float64) map[string]any
}

// base carries the defaults shared by all axes: the last commanded value
// is the reading, the axis is always ready and shutdown does nothing.
type base struct {
	name     string
	unit     string
	decimals int

	mu      sync.Mutex
	current float64
	moved   bool
}

func (b *base) Name() string { return b.name }
func (b *base) Unit() string { return b.unit }

func (b *base) setCurrent(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = v
	b.moved = true
}

func (b *base) Read() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.moved {
		return 0, errors.New().WithData(ErrNotPositioned, b.name)
	}
	return b.current, nil
}

func (b *base) IsReady() (bool, error)               { return true, nil }
func (b *base) EstimateSettle(float64) time.Duration { return 0 }
func (b *base) Blocking() bool                       { return false }
func (b *base) Shutdown() error                      { return nil }

func (b *base) Describe(value float64) map[string]any {
	return map[string]any{
		"axis":     b.name,
		"value":    value,
		"unit":     b.unit,
		"decimals": b.decimals,
	}
}

// Count has no physical motion; it numbers repeated captures.
type Count struct {
	base
}

func NewCount() *Count {
	return &Count{base: base{name: "count", unit: "#"}}
}

func (c *Count) Goto(value float64) error {
	c.setCurrent(float64(int64(value)))
	return nil
}
