package runner_test

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/engine"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal/mercury"
	"codeberg.org/teralab/teractl/internal/hal/simulated"
	"codeberg.org/teralab/teractl/internal/registry"
	"codeberg.org/teralab/teractl/internal/runner"
	"codeberg.org/teralab/teractl/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quantum = 10 * time.Millisecond

type recorder struct {
	runner.NopListener

	mu       sync.Mutex
	kinds    []runner.EventKind
	indices  []int
	finished []*data.Run
	aborted  int
}

func (r *recorder) add(k runner.EventKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, k)
}

func (r *recorder) RunStarted(map[string]any)  { r.add(runner.EventRunStarted) }
func (r *recorder) StepStarted(map[string]any) { r.add(runner.EventStepStarted) }

func (r *recorder) DataReady(atom *data.Atom, _ map[string]any) {
	r.mu.Lock()
	r.indices = append(r.indices, atom.Index)
	r.mu.Unlock()
	r.add(runner.EventDataReady)
}

func (r *recorder) StepFinished(int, int) { r.add(runner.EventStepFinished) }

func (r *recorder) Aborted() {
	r.mu.Lock()
	r.aborted++
	r.mu.Unlock()
	r.add(runner.EventAborted)
}

func (r *recorder) Finished(run *data.Run) {
	r.mu.Lock()
	r.finished = append(r.finished, run)
	r.mu.Unlock()
	r.add(runner.EventFinished)
}

func (r *recorder) count(k runner.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.kinds {
		if got == k {
			n++
		}
	}
	return n
}

func (r *recorder) last() runner.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.kinds) == 0 {
		return ""
	}
	return r.kinds[len(r.kinds)-1]
}

// scriptedAxis becomes ready after readyAfter polls.
type scriptedAxis struct {
	blocking   bool
	readyAfter int
	settle     time.Duration

	mu        sync.Mutex
	polls     int
	positions []float64
	shutdowns atomic.Int32
}

func (a *scriptedAxis) Name() string { return "scripted" }
func (a *scriptedAxis) Unit() string { return "u" }

func (a *scriptedAxis) Goto(v float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions = append(a.positions, v)
	a.polls = 0
	return nil
}

func (a *scriptedAxis) Read() (float64, error) { return 0, nil }

func (a *scriptedAxis) IsReady() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	return a.readyAfter >= 0 && a.polls > a.readyAfter, nil
}

func (a *scriptedAxis) EstimateSettle(float64) time.Duration { return a.settle }
func (a *scriptedAxis) Blocking() bool                       { return a.blocking }

func (a *scriptedAxis) Shutdown() error {
	a.shutdowns.Add(1)
	return nil
}

func (a *scriptedAxis) Describe(v float64) map[string]any {
	return map[string]any{"axis": "scripted", "value": v, "unit": "u"}
}

type memorySink struct {
	mu       sync.Mutex
	opened   int
	closed   int
	written  []int
	writeErr error
}

func (s *memorySink) Open(*data.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return nil
}

func (s *memorySink) Write(_ *data.Run, atom *data.Atom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, atom.Index)
	return nil
}

func (s *memorySink) Close(*data.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func newCapture(t *testing.T, opts ...simulated.Option) (*engine.Capture, *simulated.THz) {
	t.Helper()
	thz := simulated.New(append([]simulated.Option{simulated.WithPoints(16)}, opts...)...)
	require.NoError(t, thz.Connect("sim"))
	reg := registry.New()
	require.NoError(t, reg.Register("THz System", thz))
	return engine.NewCapture(reg, "THz System"), thz
}

func newConfig(t *testing.T, axis sweep.Axis, start, stop, step float64, dwell time.Duration) sweep.Config {
	t.Helper()
	cfg, err := sweep.NewConfig(axis, start, stop, step, dwell)
	require.NoError(t, err)
	return cfg
}

func runAsync(w *runner.Worker) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := w.Run(context.Background())
		done <- err
	}()
	return done
}

func TestRunCountSweep(t *testing.T) {
	capture, thz := newCapture(t)
	rec := &recorder{}
	queue := runner.NewEventQueue()
	sink := &memorySink{}

	w := runner.New(newConfig(t, sweep.NewCount(), 1, 3, 1, 0), capture,
		runner.WithQuantum(quantum),
		runner.WithListener(runner.Multi{rec, queue}),
		runner.WithSinks(sink),
		runner.WithMetadata(data.Metadata{Operator: "op", Sample: "GaAs"}),
	)

	run, err := w.Run(context.Background())
	require.NoError(t, err)

	atoms := run.Atoms()
	require.Len(t, atoms, 3)
	for i, atom := range atoms {
		assert.Equal(t, i+1, atom.Index)
		meta, ok := atom.Status[engine.MetadataKey].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(i+1), meta["value"])
	}

	assert.Equal(t, []int{1, 2, 3}, rec.indices)
	assert.Equal(t, 1, rec.count(runner.EventFinished))
	assert.Zero(t, rec.count(runner.EventAborted))
	assert.Equal(t, runner.EventFinished, rec.last())

	assert.Equal(t, data.RunCompleted, run.Status())
	assert.Equal(t, "GaAs", run.Metadata.Sample)
	assert.Equal(t, runner.Finished, w.State())

	assert.Equal(t, 1, sink.opened)
	assert.Equal(t, []int{1, 2, 3}, sink.written)
	assert.Equal(t, 1, sink.closed)

	assert.Equal(t, 3, thz.Acquisitions())
	assert.Equal(t, 3, thz.AveragingEnded())

	// The queued copy replays in the same order.
	replay := &recorder{}
	assert.Positive(t, queue.Drain(replay))
	assert.Equal(t, rec.kinds, replay.kinds)
	assert.Zero(t, queue.Len())
}

func TestRunTwiceRejected(t *testing.T) {
	capture, _ := newCapture(t)
	w := runner.New(newConfig(t, sweep.NewCount(), 1, 1, 1, 0), capture, runner.WithQuantum(quantum))

	_, err := w.Run(context.Background())
	require.NoError(t, err)

	_, err = w.Run(context.Background())
	assert.True(t, errors.HasCode(err, runner.ErrAlreadyStarted))
}

func TestStartThenAbortAtOnce(t *testing.T) {
	capture, thz := newCapture(t)
	w := runner.New(newConfig(t, sweep.NewCount(), 0, 9, 1, time.Minute), capture, runner.WithQuantum(quantum))

	done := make(chan error, 1)
	require.NoError(t, w.Start(context.Background(), func(_ *data.Run, err error) { done <- err }))
	assert.Equal(t, runner.Running, w.State())
	require.True(t, w.Abort())

	select {
	case err := <-done:
		assert.True(t, errors.HasCode(err, errors.ErrAborted))
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after abort")
	}
	assert.Equal(t, runner.Aborted, w.State())
	assert.Zero(t, thz.Acquisitions())

	assert.True(t, errors.HasCode(w.Start(context.Background(), nil), runner.ErrAlreadyStarted))
}

func TestStartThenPauseAtOnce(t *testing.T) {
	capture, thz := newCapture(t)
	w := runner.New(newConfig(t, sweep.NewCount(), 1, 2, 1, 0), capture, runner.WithQuantum(quantum))

	done := make(chan error, 1)
	require.NoError(t, w.Start(context.Background(), func(_ *data.Run, err error) { done <- err }))
	require.True(t, w.Pause())

	time.Sleep(5 * quantum)
	assert.Zero(t, thz.Acquisitions(), "paused before the first step")

	require.True(t, w.Resume())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}
	assert.Equal(t, 2, thz.Acquisitions())
}

func TestAbortDuringDwell(t *testing.T) {
	capture, thz := newCapture(t)
	rec := &recorder{}
	axis := &scriptedAxis{}

	w := runner.New(newConfig(t, axis, 1, 5, 1, 10*time.Second), capture,
		runner.WithQuantum(quantum),
		runner.WithListener(rec),
	)
	done := runAsync(w)

	require.Eventually(t, func() bool { return rec.count(runner.EventStepStarted) == 1 }, time.Second, time.Millisecond)
	time.Sleep(3 * quantum)

	start := time.Now()
	require.True(t, w.Abort())

	select {
	case err := <-done:
		assert.True(t, errors.HasCode(err, errors.ErrAborted))
	case <-time.After(time.Second):
		t.Fatal("run did not stop after abort")
	}
	assert.Less(t, time.Since(start), 10*quantum)

	assert.Equal(t, runner.Aborted, w.State())
	assert.Equal(t, 1, rec.aborted)
	assert.Equal(t, 1, rec.count(runner.EventFinished))
	assert.Equal(t, runner.EventFinished, rec.last())
	assert.EqualValues(t, 1, axis.shutdowns.Load())
	assert.Zero(t, thz.Acquisitions())
	assert.Equal(t, data.RunAborted, rec.finished[0].Status())

	assert.False(t, w.Abort(), "abort after the run ended")
}

func TestPauseResume(t *testing.T) {
	capture, thz := newCapture(t)
	rec := &recorder{}

	w := runner.New(newConfig(t, sweep.NewCount(), 1, 2, 1, 100*time.Millisecond), capture,
		runner.WithQuantum(quantum),
		runner.WithListener(rec),
	)
	assert.False(t, w.Pause(), "not running")

	done := runAsync(w)
	require.Eventually(t, func() bool { return rec.count(runner.EventStepStarted) == 1 }, time.Second, time.Millisecond)

	require.True(t, w.Pause())
	assert.Equal(t, runner.Paused, w.State())
	assert.False(t, w.Pause())

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, thz.Acquisitions(), "paused during the first dwell")

	require.True(t, w.Resume())
	assert.False(t, w.Resume())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after resume")
	}
	assert.Equal(t, 2, thz.Acquisitions())
	assert.Equal(t, runner.Finished, w.State())
}

func TestAbortWhilePaused(t *testing.T) {
	capture, _ := newCapture(t)
	rec := &recorder{}

	w := runner.New(newConfig(t, sweep.NewCount(), 1, 3, 1, time.Second), capture,
		runner.WithQuantum(quantum),
		runner.WithListener(rec),
	)
	done := runAsync(w)
	require.Eventually(t, func() bool { return rec.count(runner.EventStepStarted) == 1 }, time.Second, time.Millisecond)

	require.True(t, w.Pause())
	require.True(t, w.Abort())

	select {
	case err := <-done:
		assert.True(t, errors.HasCode(err, errors.ErrAborted))
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, 1, rec.aborted)
	assert.Equal(t, runner.Aborted, w.State())
}

func TestContextCancelAborts(t *testing.T) {
	capture, _ := newCapture(t)
	w := runner.New(newConfig(t, sweep.NewCount(), 1, 3, 1, 5*time.Second), capture, runner.WithQuantum(quantum))

	ctx, cancel := context.WithTimeout(context.Background(), 5*quantum)
	defer cancel()

	run, err := w.Run(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrAborted))
	assert.Equal(t, data.RunAborted, run.Status())
}

func TestBlockingAxisSettles(t *testing.T) {
	capture, thz := newCapture(t)
	axis := &scriptedAxis{blocking: true, readyAfter: 3, settle: time.Second}

	w := runner.New(newConfig(t, axis, 0, 1, 0.5, 0), capture, runner.WithQuantum(quantum))
	run, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, run.Atoms(), 3)
	assert.Equal(t, []float64{0, 0.5, 1}, axis.positions)
	assert.Equal(t, 3, thz.Acquisitions())
	assert.EqualValues(t, 1, axis.shutdowns.Load())
}

func TestSettleTimeoutIsFatal(t *testing.T) {
	capture, thz := newCapture(t)
	rec := &recorder{}
	axis := &scriptedAxis{blocking: true, readyAfter: -1, settle: 5 * quantum}

	w := runner.New(newConfig(t, axis, 0, 2, 1, 0), capture,
		runner.WithQuantum(quantum),
		runner.WithListener(rec),
	)
	run, err := w.Run(context.Background())
	assert.True(t, errors.HasCode(err, runner.ErrSettleTimeout))

	assert.Equal(t, runner.Error, w.State())
	assert.Equal(t, data.RunFailed, run.Status())
	assert.Zero(t, rec.aborted)
	assert.Equal(t, 1, rec.count(runner.EventFinished))
	assert.EqualValues(t, 1, axis.shutdowns.Load())
	assert.Zero(t, thz.Acquisitions())
	assert.Len(t, axis.positions, 1)
}

// magnet is a supply sitting at its field that reports RTOS for a number
// of polls after each GotoSet before it holds.
type magnet struct {
	mu        sync.Mutex
	field     float64
	rampPolls int
	left      int
	holds     int
}

func (m *magnet) FirstOfKind(kind mercury.Kind) (mercury.Device, bool) {
	return mercury.Device{Name: "Magnet", Kind: mercury.KindPSU}, kind == mercury.KindPSU
}

func (m *magnet) SetTargetField(string, float64) error    { return nil }
func (m *magnet) SetCurrentRate(string, float64) error    { return nil }
func (m *magnet) SetFieldRate(string, float64) error      { return nil }
func (m *magnet) GotoZero(string) error                   { return nil }
func (m *magnet) ReadFieldRate(string) (float64, error)   { return 0.5, nil }
func (m *magnet) ReadCurrentRate(string) (float64, error) { return 1, nil }

func (m *magnet) ReadField(string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.field, nil
}

func (m *magnet) GotoSet(string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = m.rampPolls
	return nil
}

func (m *magnet) Hold(string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds++
	return nil
}

func (m *magnet) ReadAction(string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.left > 0 {
		m.left--
		return mercury.ActionRampToSet, nil
	}
	return mercury.ActionHold, nil
}

func TestFieldSweepSettlesWithoutRamp(t *testing.T) {
	capture, thz := newCapture(t)
	supply := &magnet{rampPolls: 1}
	axis, err := sweep.NewField(engine.NewField(supply, ""), sweep.FieldSettings{
		SafetyMargin:  1.3,
		Stabilization: 300 * time.Millisecond,
		SettleSlack:   time.Second,
		MaxSettle:     time.Minute,
	})
	require.NoError(t, err)

	w := runner.New(newConfig(t, axis, 0, 0, 1, 0), capture, runner.WithQuantum(quantum))
	run, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, data.RunCompleted, run.Status())
	assert.Len(t, run.Atoms(), 1)
	assert.Equal(t, 1, thz.Acquisitions())
	assert.Equal(t, 1, supply.holds, "shutdown holds the supply")
}

func TestAveragingTimeoutEndsAveraging(t *testing.T) {
	capture, thz := newCapture(t,
		simulated.WithAveragingPolls(1000),
		simulated.WithTACTime(-1),
		simulated.WithTimeout(5*quantum),
	)

	w := runner.New(newConfig(t, sweep.NewCount(), 1, 3, 1, 0), capture, runner.WithQuantum(quantum))
	run, err := w.Run(context.Background())

	assert.True(t, errors.HasCode(err, runner.ErrAveragingTimeout))
	assert.Equal(t, data.RunFailed, run.Status())
	assert.Equal(t, 1, thz.AveragingEnded())
	assert.Zero(t, thz.Acquisitions())
}

func TestSinkFailureKeepsSafeDump(t *testing.T) {
	capture, _ := newCapture(t)
	dir := filepath.Join(t.TempDir(), "dump")
	dumper, err := runner.NewSafeDumper(dir)
	require.NoError(t, err)
	sink := &memorySink{writeErr: errors.New().New(errors.ErrWriteStorage)}

	w := runner.New(newConfig(t, sweep.NewCount(), 1, 3, 1, 0), capture,
		runner.WithQuantum(quantum),
		runner.WithSinks(sink),
		runner.WithSafeDump(dumper),
	)
	run, err := w.Run(context.Background())

	assert.True(t, errors.HasCode(err, runner.ErrSinkFailed))
	assert.Equal(t, data.RunFailed, run.Status())
	assert.Len(t, run.Atoms(), 1)
	assert.Equal(t, 1, sink.closed)

	csvFiles, err := filepath.Glob(filepath.Join(dir, "*_count_0001.csv"))
	require.NoError(t, err)
	assert.Len(t, csvFiles, 1)
	jsonFiles, err := filepath.Glob(filepath.Join(dir, "*_count_0001.json"))
	require.NoError(t, err)
	assert.Len(t, jsonFiles, 1)
}

func TestSafeDumpContents(t *testing.T) {
	dumper, err := runner.NewSafeDumper(t.TempDir())
	require.NoError(t, err)

	wf, err := data.NewWaveform([]float64{0, 0.5}, []float64{1.5, -2})
	require.NoError(t, err)
	atom := &data.Atom{Index: 7, Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Payload: wf}

	path, err := dumper.Dump(atom, map[string]any{"axis": "field", "value": 1.0})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "20260301_120000.000_field_0007.csv"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"time", "signal"},
		{"0", "1.5"},
		{"0.5", "-2"},
	}, records)

	meta, err := os.ReadFile(strings.TrimSuffix(path, ".csv") + ".json")
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"axis": "field"`)
	assert.Contains(t, string(meta), `"index": 7`)
}

func TestEventQueue(t *testing.T) {
	q := runner.NewEventQueue()

	q.RunStarted(map[string]any{"axis": "count"})
	q.StepProgress(time.Second, 2*time.Second, "dwell")
	q.StepFinished(1, 3)
	q.Finished(nil)

	select {
	case <-q.Ready():
	default:
		t.Fatal("ready not signalled")
	}
	assert.Equal(t, 4, q.Len())

	rec := &recorder{}
	assert.Equal(t, 4, q.Drain(rec))
	assert.Equal(t, []runner.EventKind{
		runner.EventRunStarted,
		runner.EventStepFinished,
		runner.EventFinished,
	}, rec.kinds)
	assert.Zero(t, q.Drain(rec))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "paused", runner.Paused.String())
	assert.True(t, runner.Running.Active())
	assert.False(t, runner.Error.Active())
}
