// Package runner executes a sweep: it walks the axis through its points,
// waits for settling and averaging, captures one atom per point and hands it
// to the sinks, under cooperative pause, resume and abort.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/sweep"
)

const DefaultQuantum = 50 * time.Millisecond

// Capturer acquires atoms and drives the THz averaging lifecycle.
type Capturer interface {
	Capture(ctx context.Context, meta map[string]any, index int) (*data.Atom, error)
	BeginAveraging() error
	IsAveragingDone() (bool, error)
	EndAveraging() error
	EstimateTimeout() (time.Duration, error)
}

// Sink persists a run. Open is called before the first step, Write once per
// atom in step order and Close once at the end, whatever the outcome.
type Sink interface {
	Open(run *data.Run) error
	Write(run *data.Run, atom *data.Atom) error
	Close(run *data.Run) error
}

type Option func(*Worker)

// WithQuantum sets the sleep granularity at which pause and abort are
// observed.
func WithQuantum(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.quantum = d
		}
	}
}

func WithListener(l Listener) Option {
	return func(w *Worker) {
		w.listener = l
	}
}

func WithSinks(sinks ...Sink) Option {
	return func(w *Worker) {
		w.sinks = append(w.sinks, sinks...)
	}
}

// WithSafeDump writes every captured payload to d before it reaches the
// sinks.
func WithSafeDump(d *SafeDumper) Option {
	return func(w *Worker) {
		w.dumper = d
	}
}

func WithMetadata(meta data.Metadata) Option {
	return func(w *Worker) {
		w.meta = meta
	}
}

// Worker runs one sweep once. Pause, Resume and Abort may be called from any
// goroutine while Run executes.
type Worker struct {
	sweep    sweep.Config
	capture  Capturer
	listener Listener
	sinks    []Sink
	dumper   *SafeDumper
	meta     data.Metadata
	quantum  time.Duration
	log      logger.Logger

	errFactory errors.Factory

	state    atomic.Int32
	abort    atomic.Bool
	pausedNs atomic.Int64

	shutdownOnce sync.Once
}

func New(cfg sweep.Config, capture Capturer, opts ...Option) *Worker {
	w := &Worker{
		sweep:      cfg,
		capture:    capture,
		listener:   NopListener{},
		quantum:    DefaultQuantum,
		log:        logger.Component("runner"),
		errFactory: errors.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Pause suspends the run at its next checkpoint. It reports false unless the
// run is running.
func (w *Worker) Pause() bool {
	if !w.state.CompareAndSwap(int32(Running), int32(Paused)) {
		return false
	}
	w.log.Info().Msg("Run paused")
	return true
}

func (w *Worker) Resume() bool {
	if !w.state.CompareAndSwap(int32(Paused), int32(Running)) {
		return false
	}
	w.log.Info().Msg("Run resumed")
	return true
}

// Abort stops the run at its next checkpoint. Abort is permanent.
func (w *Worker) Abort() bool {
	if !w.State().Active() {
		return false
	}
	w.abort.Store(true)
	w.log.Info().Msg("Abort requested")
	return true
}

// Run executes the sweep and returns the finalized run record. The returned
// error is nil for a completed run and carries errors.ErrAborted for an
// aborted one. Cancelling ctx aborts the run.
func (w *Worker) Run(ctx context.Context) (*data.Run, error) {
	if !w.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return nil, w.errFactory.New(ErrAlreadyStarted)
	}
	return w.execute(ctx)
}

// Start is Run in a new goroutine. The worker is Running when Start
// returns, so Pause and Abort act on it at once. done, if set, receives
// Run's results.
func (w *Worker) Start(ctx context.Context, done func(*data.Run, error)) error {
	if !w.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return w.errFactory.New(ErrAlreadyStarted)
	}
	go func() {
		run, err := w.execute(ctx)
		if done != nil {
			done(run, err)
		}
	}()
	return nil
}

func (w *Worker) execute(ctx context.Context) (*data.Run, error) {
	describe := w.sweep.Describe()
	run := data.NewRun(w.meta, describe)
	points := w.sweep.Points()
	total := len(points)

	w.log.Info().
		Str("run", run.ID.String()).
		Str("axis", w.sweep.Axis.Name()).
		Int("points", total).
		Msg("Run started")
	w.listener.RunStarted(run.Meta())

	err := w.openSinks(run)
	if err == nil {
		for i, value := range points {
			if err = w.step(ctx, run, i+1, total, value); err != nil {
				break
			}
		}
	}

	w.finish(run, err)
	return run, err
}

func (w *Worker) step(ctx context.Context, run *data.Run, index, total int, value float64) error {
	if err := w.checkpoint(ctx); err != nil {
		return err
	}

	axis := w.sweep.Axis
	meta := axis.Describe(value)
	meta["index"] = index
	w.listener.StepStarted(meta)

	if err := axis.Goto(value); err != nil {
		return err
	}

	if axis.Blocking() {
		if err := w.settle(ctx, value); err != nil {
			return err
		}
	}

	if w.sweep.Dwell > 0 {
		dwell := w.sweep.Dwell
		err := w.sleep(ctx, dwell, func(elapsed time.Duration) {
			w.listener.StepProgress(elapsed, dwell, "dwell")
		})
		if err != nil {
			return err
		}
	}

	if err := w.average(ctx); err != nil {
		return err
	}

	atom, err := w.capture.Capture(ctx, meta, index)
	if err != nil {
		return err
	}
	if err := run.Append(atom); err != nil {
		return err
	}
	w.listener.DataReady(atom, meta)

	if w.dumper != nil {
		if path, err := w.dumper.Dump(atom, meta); err != nil {
			w.log.Warn().Err(err).Int("index", index).Msg("Safe dump failed")
		} else {
			w.log.Debug().Str("path", path).Msg("Safe dump written")
		}
	}

	for _, s := range w.sinks {
		if err := s.Write(run, atom); err != nil {
			return w.errFactory.Wrap(ErrSinkFailed, err)
		}
	}

	w.listener.StepFinished(index, total)
	w.listener.RunProgress(index, total)
	return nil
}

// settle polls the axis until it is ready. Exceeding the axis' own estimate
// is fatal.
func (w *Worker) settle(ctx context.Context, value float64) error {
	axis := w.sweep.Axis
	estimate := axis.EstimateSettle(value)
	start := w.clock()

	w.log.Info().Dur("estimate", estimate).Float64("value", value).Msg("Waiting for axis to settle")
	for {
		ready, err := axis.IsReady()
		if err != nil {
			return err
		}
		if ready {
			return nil
		}

		elapsed := w.since(start)
		if elapsed >= estimate {
			return w.errFactory.WithData(ErrSettleTimeout, map[string]any{
				"axis":     axis.Name(),
				"value":    value,
				"estimate": estimate.String(),
			})
		}
		w.listener.StepProgress(elapsed, estimate, "settling")

		if err := w.sleep(ctx, w.quantum, nil); err != nil {
			return err
		}
	}
}

// average runs one averaging cycle. EndAveraging runs whatever happens.
func (w *Worker) average(ctx context.Context) (err error) {
	timeout, err := w.capture.EstimateTimeout()
	if err != nil {
		return err
	}

	defer func() {
		if endErr := w.capture.EndAveraging(); endErr != nil {
			w.log.Error().Err(endErr).Msg("Failed to end averaging")
			if err == nil {
				err = endErr
			}
		}
	}()

	if err := w.capture.BeginAveraging(); err != nil {
		return err
	}

	start := w.clock()
	for {
		done, err := w.capture.IsAveragingDone()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		elapsed := w.since(start)
		if elapsed >= timeout {
			return w.errFactory.WithData(ErrAveragingTimeout, timeout.String())
		}
		w.listener.StepProgress(elapsed, timeout, "averaging")

		if err := w.sleep(ctx, w.quantum, nil); err != nil {
			return err
		}
	}
}

func (w *Worker) openSinks(run *data.Run) error {
	for _, s := range w.sinks {
		if err := s.Open(run); err != nil {
			return w.errFactory.Wrap(ErrSinkFailed, err)
		}
	}
	return nil
}

func (w *Worker) closeSinks(run *data.Run) {
	for _, s := range w.sinks {
		if err := s.Close(run); err != nil {
			w.log.Error().Err(err).Str("run", run.ID.String()).Msg("Failed to close sink")
		}
	}
}

// finish is the single exit path: shut the axis down, finalize the run,
// close the sinks and notify.
func (w *Worker) finish(run *data.Run, err error) {
	w.shutdownOnce.Do(func() {
		if shutdownErr := w.sweep.Axis.Shutdown(); shutdownErr != nil {
			w.log.Error().Err(shutdownErr).Msg("Axis shutdown failed")
		}
	})

	status, state := data.RunCompleted, Finished
	switch {
	case errors.HasCode(err, errors.ErrAborted):
		status, state = data.RunAborted, Aborted
	case err != nil:
		status, state = data.RunFailed, Error
	}

	run.Finalize(status, err)
	w.closeSinks(run)
	w.state.Store(int32(state))

	event := w.log.Info()
	if state == Error {
		event = w.log.Error().Err(err)
	}
	event.
		Str("run", run.ID.String()).
		Str("status", string(status)).
		Int("atoms", len(run.Atoms())).
		Msg("Run finished")

	if state == Aborted {
		w.listener.Aborted()
	}
	w.listener.Finished(run)
}
