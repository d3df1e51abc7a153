package teraflash

import "codeberg.org/teralab/teractl/internal/hal"

// Status returns a snapshot of the instrument. Fields that cannot be read
// are nil; the snapshot itself never fails.
func (c *Client) Status() hal.Status {
	c.log.Debug().Msg("Querying system status")

	status := hal.Status{
		"connected":      c.IsConnected(),
		"running":        nil,
		"channel":        c.Channel(),
		"average_points": nil,
		"tac_time_s":     nil,
		"amplitude_nA":   nil,
	}

	if !status["connected"].(bool) {
		return status
	}

	if running, err := c.IsRunning(); err == nil {
		status["running"] = running
	} else {
		c.log.Warn().Err(err).Msg("Status field unavailable: running")
	}
	if v, err := c.ReadAveragePoints(); err == nil {
		status["average_points"] = v
	} else {
		c.log.Warn().Err(err).Msg("Status field unavailable: average_points")
	}
	if v, err := c.ReadTACTime(); err == nil {
		status["tac_time_s"] = v
	} else {
		c.log.Warn().Err(err).Msg("Status field unavailable: tac_time_s")
	}
	if v, err := c.ReadAmplitude(); err == nil {
		status["amplitude_nA"] = v
	} else {
		c.log.Warn().Err(err).Msg("Status field unavailable: amplitude_nA")
	}

	return status
}
