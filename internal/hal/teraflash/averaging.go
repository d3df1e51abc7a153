package teraflash

import (
	"context"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
)

const (
	tacTimeFactor = 2.0
	tacTimeSlack  = 3 * time.Second
)

// BeginAveraging resets the instrument's averaging and starts a new
// accumulation: WAIT and AUTO are forced off, then AUTO is switched on.
func (c *Client) BeginAveraging() error {
	if err := c.SetWait(false); err != nil {
		return err
	}
	if err := c.SetAuto(false); err != nil {
		return err
	}
	return c.SetAuto(true)
}

// IsAveragingDone reports whether the firmware has raised WAIT.
func (c *Client) IsAveragingDone() (bool, error) {
	state, err := c.ReadWaitState()
	if err != nil {
		return false, err
	}
	return state == stateOn, nil
}

// EndAveraging forces WAIT and AUTO off. Both are attempted even if the
// first fails.
func (c *Client) EndAveraging() error {
	waitErr := c.SetWait(false)
	autoErr := c.SetAuto(false)
	if waitErr != nil {
		return waitErr
	}
	return autoErr
}

// EstimateAveragingTimeout returns max(base, 2*tac+3s) for a TAC time in
// seconds.
func EstimateAveragingTimeout(base time.Duration, tac float64) time.Duration {
	estimate := time.Duration(tacTimeFactor*tac*float64(time.Second)) + tacTimeSlack
	if estimate < base {
		return base
	}
	return estimate
}

// AveragingTimeout estimates the averaging timeout from the instrument's
// TAC time. If it cannot be read the configured timeout is returned.
func (c *Client) AveragingTimeout() time.Duration {
	tac, err := c.ReadTACTime()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read TAC.TIME; using default timeout")
		return c.opts.timeout
	}

	estimate := EstimateAveragingTimeout(c.opts.timeout, tac)
	c.log.Debug().Dur("timeout", estimate).Msg("Estimated averaging timeout")
	return estimate
}

// AcquireAveragedTrace runs one full averaging cycle and returns the
// averaged trace. A non-positive timeout uses AveragingTimeout.
func (c *Client) AcquireAveragedTrace(ctx context.Context, timeout time.Duration) (*data.Trace, error) {
	c.log.Info().Msg("Starting averaged trace acquisition")

	if timeout <= 0 {
		timeout = c.AveragingTimeout()
	}

	if err := c.BeginAveraging(); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.EndAveraging(); err != nil {
			c.log.Error().Err(err).Msg("Failed to end averaging")
		}
	}()

	ticker := time.NewTicker(c.opts.pollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)

	for {
		done, err := c.IsAveragingDone()
		if err == nil && done {
			c.log.Debug().Msg("WAIT=ON detected")
			break
		}
		if time.Now().After(deadline) {
			c.log.Error().Dur("timeout", timeout).Msg("Timeout waiting for WAIT=ON")
			return nil, c.errFactory.WithData(ErrAveragingTimeout, timeout.String())
		}

		select {
		case <-ctx.Done():
			return nil, c.errFactory.Wrap(errors.ErrAborted, ctx.Err())
		case <-ticker.C:
		}
	}

	trace, err := c.AcquireTrace(ctx)
	if err != nil {
		return nil, err
	}
	c.log.Info().Msg("Averaged trace acquisition complete")
	return trace, nil
}
