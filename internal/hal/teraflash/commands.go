package teraflash

import (
	"fmt"
	"strconv"
	"strings"
)

const defaultSeparator = ":"

func onOff(on bool) string {
	if on {
		return stateOn
	}
	return stateOff
}

// set sends "<cmd> <sep> <value>" and requires a reply starting with OK.
func (c *Client) set(cmd string, value any, sep string) error {
	full := fmt.Sprintf("%s %s %v", strings.TrimSpace(cmd), sep, value)
	c.log.Debug().Str("cmd", full).Msg("Setting parameter")

	resp, err := c.exchange(full)
	if err != nil {
		c.log.Error().Err(err).Str("cmd", cmd).Interface("value", value).Msg("Failed to set parameter")
		return err
	}
	if err := c.expectOK(full, resp); err != nil {
		return err
	}

	c.log.Info().Str("cmd", cmd).Interface("value", value).Msg("Set successful")
	return nil
}

func (c *Client) expectOK(cmd, resp string) error {
	if !strings.HasPrefix(resp, "OK") {
		c.log.Error().Str("cmd", cmd).Str("response", resp).Msg("Instrument returned error response")
		return c.errFactory.WithData(ErrCommandRejected, fmt.Sprintf("%s: %s", cmd, resp))
	}
	return nil
}

func (c *Client) readFloat(cmd string) (float64, error) {
	raw, err := c.exchange(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.log.Warn().Str("cmd", cmd).Str("response", raw).Msg("Failed to parse response as float")
		return 0, &ParseError{Command: cmd, Raw: raw, Err: err}
	}
	return v, nil
}

func (c *Client) readInt(cmd string) (int, error) {
	raw, err := c.exchange(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.log.Warn().Str("cmd", cmd).Str("response", raw).Msg("Failed to parse response as int")
		return 0, &ParseError{Command: cmd, Raw: raw, Err: err}
	}
	return v, nil
}

// Channel returns the active emitter/detector channel.
func (c *Client) Channel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// SetChannel selects channel 1 or 2. It affects RC-VOLT/RD-VOLT and the
// signal column used by Waveform.
func (c *Client) SetChannel(ch int) error {
	if ch != 1 && ch != 2 {
		return c.errFactory.WithData(ErrInvalidChannel, ch)
	}
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	return nil
}

func (c *Client) SetLaser(on bool) error {
	return c.set("RC-LASER", onOff(on), defaultSeparator)
}

func (c *Client) SetEmitter(on bool) error {
	return c.set(fmt.Sprintf("RC-VOLT%d", c.Channel()), onOff(on), defaultSeparator)
}

func (c *Client) SetRun(on bool) error {
	return c.set("RC-RUN", onOff(on), defaultSeparator)
}

func (c *Client) SetWait(on bool) error {
	return c.set("RC-WAIT", onOff(on), defaultSeparator)
}

func (c *Client) SetAuto(on bool) error {
	return c.set("RC-AUTO", onOff(on), defaultSeparator)
}

func (c *Client) SetBeginPs(v float64) error {
	return c.set("RC-BEGIN", v, "%.1f")
}

func (c *Client) SetRangePs(v int) error {
	return c.set("RC-RANGE", v, "%d")
}

func (c *Client) SetAveragePoints(v int) error {
	return c.set("RC-AVERAGE", v, "%d")
}

func (c *Client) SetFilePath(path string) error {
	return c.set("RC-FILEPATH", path, "%s")
}

// SaveTrace asks the instrument to write the current trace to its file path.
func (c *Client) SaveTrace() error {
	resp, err := c.exchange("RC-SAVE WO-S")
	if err != nil {
		return err
	}
	if err := c.expectOK("RC-SAVE WO-S", resp); err != nil {
		return err
	}
	c.log.Info().Msg("Saved trace")
	return nil
}

// Run switches laser, emitter and RUN on, in that order.
func (c *Client) Run() error {
	c.log.Info().Msg("Starting system RUN sequence")
	for _, step := range []func(bool) error{c.SetLaser, c.SetEmitter, c.SetRun} {
		if err := step(true); err != nil {
			return err
		}
	}
	return nil
}

// Stop switches laser, emitter and RUN off, in that order.
func (c *Client) Stop() error {
	c.log.Info().Msg("Stopping system RUN sequence")
	for _, step := range []func(bool) error{c.SetLaser, c.SetEmitter, c.SetRun} {
		if err := step(false); err != nil {
			return err
		}
	}
	return nil
}

// ReadAmplitude returns the last pulse amplitude in nA.
func (c *Client) ReadAmplitude() (float64, error) {
	return c.readFloat("RD-AMPLITUDE")
}

// ReadTACTime returns the estimated total acquisition time of an averaged
// trace in seconds.
func (c *Client) ReadTACTime() (float64, error) {
	return c.readFloat("RD-TAC.TIME")
}

func (c *Client) ReadBeginPs() (float64, error) {
	return c.readFloat("RD-BEGIN")
}

func (c *Client) ReadRangePs() (int, error) {
	return c.readInt("RD-RANGE")
}

func (c *Client) ReadAveragePoints() (int, error) {
	return c.readInt("RD-AVERAGE")
}

func (c *Client) ReadLaserState() (string, error) {
	return c.exchange("RD-LASER")
}

func (c *Client) ReadEmitterState() (string, error) {
	return c.exchange(fmt.Sprintf("RD-VOLT%d", c.Channel()))
}

func (c *Client) ReadRunState() (string, error) {
	return c.exchange("RD-RUN")
}

func (c *Client) ReadWaitState() (string, error) {
	return c.exchange("RD-WAIT")
}

func (c *Client) ReadAutoState() (string, error) {
	return c.exchange("RD-AUTO")
}

// IsRunning reports whether laser, emitter and RUN are all ON.
func (c *Client) IsRunning() (bool, error) {
	if !c.IsConnected() {
		return false, nil
	}
	for _, read := range []func() (string, error){c.ReadLaserState, c.ReadEmitterState, c.ReadRunState} {
		state, err := read()
		if err != nil {
			return false, err
		}
		if state != stateOn {
			return false, nil
		}
	}
	return true, nil
}
