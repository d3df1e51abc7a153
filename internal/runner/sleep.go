package runner

import (
	"context"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
)

func (w *Worker) aborted(ctx context.Context) bool {
	if w.abort.Load() {
		return true
	}
	if ctx.Err() != nil {
		w.abort.Store(true)
		return true
	}
	return false
}

func (w *Worker) abortErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return w.errFactory.Wrap(errors.ErrAborted, err)
	}
	return w.errFactory.New(errors.ErrAborted)
}

// checkpoint returns an abort error if abort was requested, and otherwise
// blocks while the run is paused.
func (w *Worker) checkpoint(ctx context.Context) error {
	if w.aborted(ctx) {
		return w.abortErr(ctx)
	}
	if w.State() != Paused {
		return nil
	}

	start := time.Now()
	defer func() { w.pausedNs.Add(int64(time.Since(start))) }()
	for w.State() == Paused {
		if w.aborted(ctx) {
			return w.abortErr(ctx)
		}
		time.Sleep(w.quantum)
	}
	if w.aborted(ctx) {
		return w.abortErr(ctx)
	}
	return nil
}

// sleep waits d in quanta. Paused time does not count toward d. progress, if
// set, is called after each quantum with the time slept so far.
func (w *Worker) sleep(ctx context.Context, d time.Duration, progress func(elapsed time.Duration)) error {
	var slept time.Duration
	for slept < d {
		if err := w.checkpoint(ctx); err != nil {
			return err
		}
		q := min(w.quantum, d-slept)
		time.Sleep(q)
		slept += q
		if progress != nil {
			progress(slept)
		}
	}
	return w.checkpoint(ctx)
}

// clock and since measure running time, excluding time spent paused.
func (w *Worker) clock() time.Time {
	return time.Now().Add(-time.Duration(w.pausedNs.Load()))
}

func (w *Worker) since(start time.Time) time.Duration {
	return w.clock().Sub(start)
}
