package runner

import (
	"time"

	"codeberg.org/teralab/teractl/internal/data"
)

// Listener receives run notifications. All calls come from the worker's
// goroutine, in order: RunStarted first, Finished last and exactly once.
// Aborted, when it fires, precedes Finished.
type Listener interface {
	RunStarted(sweep map[string]any)
	RunProgress(current, total int)
	StepStarted(meta map[string]any)
	StepProgress(elapsed, estimate time.Duration, message string)
	DataReady(atom *data.Atom, meta map[string]any)
	StepFinished(index, total int)
	Aborted()
	Finished(run *data.Run)
}

// NopListener ignores every notification. Embed it to implement only the
// calls you need.
type NopListener struct{}

func (NopListener) RunStarted(map[string]any)                         {}
func (NopListener) RunProgress(int, int)                              {}
func (NopListener) StepStarted(map[string]any)                        {}
func (NopListener) StepProgress(time.Duration, time.Duration, string) {}
func (NopListener) DataReady(*data.Atom, map[string]any)              {}
func (NopListener) StepFinished(int, int)                             {}
func (NopListener) Aborted()                                          {}
func (NopListener) Finished(*data.Run)                                {}

// Multi forwards each notification to every listener in order.
type Multi []Listener

func (m Multi) RunStarted(sweep map[string]any) {
	for _, l := range m {
		l.RunStarted(sweep)
	}
}

func (m Multi) RunProgress(current, total int) {
	for _, l := range m {
		l.RunProgress(current, total)
	}
}

func (m Multi) StepStarted(meta map[string]any) {
	for _, l := range m {
		l.StepStarted(meta)
	}
}

func (m Multi) StepProgress(elapsed, estimate time.Duration, message string) {
	for _, l := range m {
		l.StepProgress(elapsed, estimate, message)
	}
}

func (m Multi) DataReady(atom *data.Atom, meta map[string]any) {
	for _, l := range m {
		l.DataReady(atom, meta)
	}
}

func (m Multi) StepFinished(index, total int) {
	for _, l := range m {
		l.StepFinished(index, total)
	}
}

func (m Multi) Aborted() {
	for _, l := range m {
		l.Aborted()
	}
}

func (m Multi) Finished(run *data.Run) {
	for _, l := range m {
		l.Finished(run)
	}
}
