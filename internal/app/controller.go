// Package app is the control surface: it connects instruments, answers raw
// queries and starts and steers one experiment run at a time. Its methods
// report outcomes as bool or string and log failures instead of returning
// errors.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/engine"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/registry"
	"codeberg.org/teralab/teractl/internal/runner"
	"codeberg.org/teralab/teractl/internal/sweep"
)

// RunRequest describes an experiment to start. Axis is a catalogue name.
type RunRequest struct {
	Axis     string
	Start    float64
	Stop     float64
	Step     float64
	Dwell    time.Duration
	Metadata data.Metadata
}

// AddressSaver persists an instrument address after a successful connect.
type AddressSaver interface {
	SaveAddress(name, address string) error
}

type Option func(*Controller)

func WithEngines(e sweep.Engines) Option {
	return func(c *Controller) {
		c.engines = e
	}
}

func WithSinks(sinks ...runner.Sink) Option {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sinks...)
	}
}

func WithSafeDump(d *runner.SafeDumper) Option {
	return func(c *Controller) {
		c.dumper = d
	}
}

// WithListeners adds listeners that receive run notifications on the
// worker's goroutine, next to the event queue.
func WithListeners(ls ...runner.Listener) Option {
	return func(c *Controller) {
		c.listeners = append(c.listeners, ls...)
	}
}

func WithQuantum(d time.Duration) Option {
	return func(c *Controller) {
		c.quantum = d
	}
}

func WithAddressSaver(s AddressSaver) Option {
	return func(c *Controller) {
		c.saver = s
	}
}

type Controller struct {
	registry   *registry.Registry
	connection *engine.Connection
	query      *engine.Query
	capture    *engine.Capture
	events     *runner.EventQueue
	log        logger.Logger

	engines   sweep.Engines
	sinks     []runner.Sink
	dumper    *runner.SafeDumper
	listeners []runner.Listener
	quantum   time.Duration
	saver     AddressSaver

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	worker  *runner.Worker
	done    chan struct{}
	lastRun *data.Run
	lastErr error
}

// New builds a controller over reg. thzName is the registry name of the
// THz source used for capture.
func New(reg *registry.Registry, thzName string, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		registry:   reg,
		connection: engine.NewConnection(reg),
		query:      engine.NewQuery(reg),
		capture:    engine.NewCapture(reg, thzName),
		events:     runner.NewEventQueue(),
		log:        logger.Component("app"),
		quantum:    runner.DefaultQuantum,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) InstrumentNames() []string {
	return c.registry.Names()
}

// Connect connects the named instrument and, on success, saves its
// address.
func (c *Controller) Connect(name, address string) bool {
	if err := c.connection.Connect(name, address); err != nil {
		return false
	}
	if c.saver != nil {
		if err := c.saver.SaveAddress(name, address); err != nil {
			c.log.Warn().Err(err).Str("instrument", name).Msg("Failed to save address")
		}
	}
	return true
}

// Disconnect disconnects the named instrument. Failures are logged by the
// connection engine.
func (c *Controller) Disconnect(name string) {
	_ = c.connection.Disconnect(name)
}

func (c *Controller) IsConnected(name string) bool {
	return c.connection.IsConnected(name)
}

// ConnectionStatus returns the cached connection state of every registered
// instrument.
func (c *Controller) ConnectionStatus() map[string]bool {
	return c.connection.Status()
}

// Query sends a raw command. On failure the reply is a message naming the
// instrument and the command.
func (c *Controller) Query(name, cmd string) string {
	reply, err := c.query.Query(name, cmd)
	if err != nil {
		c.log.Error().Err(err).Str("instrument", name).Str("command", cmd).Msg("Query failed")
		return fmt.Sprintf("Failed to query %s: %s", name, cmd)
	}
	return reply
}

// RunExperiment starts a run in the background. It refuses while another
// run is active or when the request is invalid.
func (c *Controller) RunExperiment(req RunRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeLocked() {
		c.log.Warn().Str("axis", req.Axis).Msg("Run refused: another run is active")
		return false
	}

	axis, err := sweep.NewAxis(req.Axis, c.engines)
	if err != nil {
		c.log.Error().Err(err).Str("axis", req.Axis).Msg("Run refused: cannot build axis")
		return false
	}
	cfg, err := sweep.NewConfig(axis, req.Start, req.Stop, req.Step, req.Dwell)
	if err != nil {
		c.log.Error().Err(err).Str("axis", req.Axis).Msg("Run refused: invalid sweep")
		return false
	}

	listener := append(runner.Multi{c.events}, c.listeners...)
	w := runner.New(cfg, c.capture,
		runner.WithQuantum(c.quantum),
		runner.WithListener(listener),
		runner.WithSinks(c.sinks...),
		runner.WithSafeDump(c.dumper),
		runner.WithMetadata(req.Metadata),
	)
	done := make(chan struct{})
	err = w.Start(c.ctx, func(run *data.Run, err error) {
		defer close(done)
		c.mu.Lock()
		c.lastRun, c.lastErr = run, err
		c.mu.Unlock()
	})
	if err != nil {
		c.log.Error().Err(err).Msg("Run refused: worker did not start")
		return false
	}
	c.worker, c.done = w, done

	c.log.Info().
		Str("axis", req.Axis).
		Float64("start", req.Start).
		Float64("stop", req.Stop).
		Float64("step", req.Step).
		Dur("dwell", req.Dwell).
		Msg("Run requested")
	return true
}

func (c *Controller) activeLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Controller) current() *runner.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker
}

func (c *Controller) Pause() bool {
	w := c.current()
	return w != nil && w.Pause()
}

func (c *Controller) Resume() bool {
	w := c.current()
	return w != nil && w.Resume()
}

func (c *Controller) Abort() bool {
	w := c.current()
	return w != nil && w.Abort()
}

// State returns the state of the latest run, Idle if none was started.
func (c *Controller) State() runner.State {
	w := c.current()
	if w == nil {
		return runner.Idle
	}
	return w.State()
}

// Events returns the queue the controlling goroutine drains.
func (c *Controller) Events() *runner.EventQueue {
	return c.events
}

// Wait blocks until the latest run has returned or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRun returns the record and outcome of the latest finished run.
func (c *Controller) LastRun() (*data.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}

// Close aborts any active run, waits for it and disconnects every
// instrument.
func (c *Controller) Close() {
	c.cancel()
	if err := c.Wait(context.Background()); err != nil {
		c.log.Error().Err(err).Msg("Waiting for run failed")
	}
	c.registry.DisconnectAll()
	c.log.Info().Msg("Controller closed")
}
