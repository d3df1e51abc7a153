// Package simulated provides an in-memory THz source for development
// without hardware.
package simulated

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal"
	"codeberg.org/teralab/teractl/internal/logger"
)

var _ hal.Instrument = (*THz)(nil)

// Option configures a simulated THz source.
type Option func(*THz)

// WithPoints sets the number of delay points per trace.
func WithPoints(n int) Option {
	return func(s *THz) {
		if n > 1 {
			s.points = n
		}
	}
}

// WithAcquireDelay simulates the transfer time of one trace.
func WithAcquireDelay(d time.Duration) Option {
	return func(s *THz) {
		s.delay = d
	}
}

// WithAveragingPolls makes IsAveragingDone report false n times after
// BeginAveraging.
func WithAveragingPolls(n int) Option {
	return func(s *THz) {
		s.polls = n
	}
}

// WithTACTime sets the reported TAC time. A negative value makes
// ReadTACTime fail.
func WithTACTime(seconds float64) Option {
	return func(s *THz) {
		s.tac = seconds
	}
}

// WithTimeout sets the timeout reported to the capture engine.
func WithTimeout(d time.Duration) Option {
	return func(s *THz) {
		s.timeout = d
	}
}

// THz produces a Gaussian-enveloped pulse centred at 0 ps on a -10..10 ps
// delay axis.
type THz struct {
	points  int
	delay   time.Duration
	polls   int
	tac     float64
	timeout time.Duration
	log     logger.Logger

	mu        sync.Mutex
	connected bool
	averaging bool
	remaining int
	acquired  int
	ended     int
}

func New(opts ...Option) *THz {
	s := &THz{
		points:  1024,
		tac:     1.0,
		timeout: 15 * time.Second,
		log:     logger.Component("simulated-thz"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *THz) Connect(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.log.Info().Str("address", address).Msg("Simulated THz system connected")
	return nil
}

func (s *THz) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.log.Info().Msg("Simulated THz system disconnected")
	}
	s.connected = false
	return nil
}

func (s *THz) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Query answers RD-* commands with plausible values and RC-* with OK.
func (s *THz) Query(cmd string) (string, error) {
	if !s.IsConnected() {
		return "", errors.New().WithData(errors.ErrNotConnected, cmd)
	}
	switch {
	case strings.HasPrefix(cmd, "RC-"):
		return "OK", nil
	case cmd == "RD-RUN", cmd == "RD-LASER":
		return "ON", nil
	}
	return "0", nil
}

func (s *THz) Status() hal.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hal.Status{
		"connected":    s.connected,
		"running":      s.connected,
		"channel":      1,
		"acquisitions": s.acquired,
		"tac_time_s":   s.tac,
	}
}

// Acquire returns a fresh pulse after the configured delay.
func (s *THz) Acquire(ctx context.Context) (*data.Waveform, error) {
	if !s.IsConnected() {
		return nil, errors.New().WithData(errors.ErrNotConnected, "simulated THz system")
	}

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.New().Wrap(errors.ErrAborted, ctx.Err())
		case <-time.After(s.delay):
		}
	}

	t := make([]float64, s.points)
	signal := make([]float64, s.points)
	step := 20.0 / float64(s.points-1)
	for i := range t {
		t[i] = -10 + float64(i)*step
		signal[i] = math.Exp(-t[i]*t[i]) * math.Cos(2*math.Pi*0.5*t[i])
	}

	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()

	return data.NewWaveform(t, signal)
}

func (s *THz) BeginAveraging() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.averaging = true
	s.remaining = s.polls
	return nil
}

func (s *THz) IsAveragingDone() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.averaging {
		return false, nil
	}
	if s.remaining > 0 {
		s.remaining--
		return false, nil
	}
	return true, nil
}

func (s *THz) EndAveraging() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.averaging = false
	s.ended++
	return nil
}

func (s *THz) ReadTACTime() (float64, error) {
	if s.tac < 0 {
		return 0, errors.New().WithData(errors.ErrOperationFailed, "RD-TAC.TIME")
	}
	return s.tac, nil
}

func (s *THz) Timeout() time.Duration {
	return s.timeout
}

// Acquisitions returns the number of traces produced.
func (s *THz) Acquisitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// AveragingEnded returns how many times EndAveraging was called.
func (s *THz) AveragingEnded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
