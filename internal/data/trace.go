// Package data holds the measurement records produced by a run: raw
// traces, waveforms, derived spectra, captured atoms and the run record.
package data

import (
	"sort"

	"codeberg.org/teralab/teractl/internal/errors"
)

// Payload is anything an atom can carry. Arrays decomposes it into named
// numeric columns for writers.
type Payload interface {
	Arrays() map[string][]float64
}

// Trace is one acquisition as delivered by the instrument: numeric columns
// keyed by normalized header name, plus the header as received.
type Trace struct {
	Columns   map[string][]float64
	RawHeader []string
}

// Column returns the named column.
func (t *Trace) Column(name string) ([]float64, bool) {
	col, ok := t.Columns[name]
	return col, ok
}

// Names returns the column names in sorted order.
func (t *Trace) Names() []string {
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of samples per column.
func (t *Trace) Len() int {
	for _, col := range t.Columns {
		return len(col)
	}
	return 0
}

func (t *Trace) Arrays() map[string][]float64 {
	return t.Columns
}

// Waveform is a time-domain THz pulse. Time is in ps, Signal in nA.
type Waveform struct {
	Time   []float64
	Signal []float64
}

// NewWaveform pairs time and signal samples of equal length.
func NewWaveform(time, signal []float64) (*Waveform, error) {
	if len(time) != len(signal) {
		return nil, errors.New().WithData(ErrLengthMismatch, map[string]int{
			"time":   len(time),
			"signal": len(signal),
		})
	}
	return &Waveform{Time: time, Signal: signal}, nil
}

func (w *Waveform) Len() int {
	return len(w.Time)
}

func (w *Waveform) Arrays() map[string][]float64 {
	return map[string][]float64{
		"time":   w.Time,
		"signal": w.Signal,
	}
}
