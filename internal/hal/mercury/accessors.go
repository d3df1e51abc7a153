package mercury

import (
	"fmt"
	"strconv"
)

// PSU action states reported by ACTN.
const (
	ActionHold       = "HOLD"
	ActionRampToSet  = "RTOS"
	ActionRampToZero = "RTOZ"
)

// device resolves name and checks its kind before any I/O.
func (c *Controller) device(name string, kind Kind) (Device, error) {
	d, ok := c.Device(name)
	if !ok {
		return Device{}, c.errFactory.WithData(ErrUnknownDevice, name)
	}
	if d.Kind != kind {
		return Device{}, c.errFactory.WithData(ErrKindMismatch,
			fmt.Sprintf("%s is %s, accessor needs %s", name, d.Kind, kind))
	}
	return d, nil
}

func (c *Controller) readRaw(name string, kind Kind, suffix string) (string, error) {
	d, err := c.device(name, kind)
	if err != nil {
		return "", err
	}
	cmd := "READ:DEV:" + d.ID + ":" + suffix
	reply, err := c.send(cmd)
	if err != nil {
		return "", err
	}
	value := lastSegment(reply)
	if value == "" || value == "INVALID" || value == "NOT_FOUND" {
		return "", c.errFactory.WithData(ErrInvalidReply, fmt.Sprintf("%s: %s", cmd, reply))
	}
	return value, nil
}

func (c *Controller) readFloat(name string, kind Kind, suffix string) (float64, error) {
	raw, err := c.readRaw(name, kind, suffix)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(stripUnit(raw), 64)
	if err != nil {
		return 0, c.errFactory.Wrap(ErrInvalidReply, err).WithData(raw)
	}
	return v, nil
}

// write sends SET:DEV:<id>:<suffix>:<value>. The reply's last segment must
// be VALID.
func (c *Controller) write(name string, kind Kind, suffix string, value any) error {
	d, err := c.device(name, kind)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("SET:DEV:%s:%s:%v", d.ID, suffix, value)
	reply, err := c.send(cmd)
	if err != nil {
		return err
	}
	if lastSegment(reply) != "VALID" {
		c.log.Error().Str("cmd", cmd).Str("reply", reply).Msg("Write rejected")
		return c.errFactory.WithData(ErrWriteRejected,
			fmt.Sprintf("set %s %s to %v: %s", name, suffix, value, reply))
	}
	c.log.Info().Str("device", name).Str("param", suffix).Interface("value", value).Msg("Set successful")
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// Temperature sensors and loops.

func (c *Controller) ReadTemperature(name string) (float64, error) {
	return c.readFloat(name, KindTemperature, "SIG:TEMP")
}

func (c *Controller) ReadTemperatureSetpoint(name string) (float64, error) {
	return c.readFloat(name, KindTemperature, "LOOP:TSET")
}

func (c *Controller) SetTemperatureSetpoint(name string, kelvin float64) error {
	return c.write(name, KindTemperature, "LOOP:TSET", formatFloat(kelvin))
}

func (c *Controller) ReadLoopEnabled(name string) (bool, error) {
	raw, err := c.readRaw(name, KindTemperature, "LOOP:ENAB")
	if err != nil {
		return false, err
	}
	return raw == "ON", nil
}

func (c *Controller) EnableTemperatureControl(name string) error {
	return c.write(name, KindTemperature, "LOOP:ENAB", "ON")
}

func (c *Controller) DisableTemperatureControl(name string) error {
	return c.write(name, KindTemperature, "LOOP:ENAB", "OFF")
}

// Heaters, pressure gauges and needle valves.

func (c *Controller) ReadHeaterPower(name string) (float64, error) {
	return c.readFloat(name, KindHeater, "SIG:POWR")
}

func (c *Controller) ReadPressure(name string) (float64, error) {
	return c.readFloat(name, KindPressure, "SIG:PRES")
}

func (c *Controller) ReadNeedleValve(name string) (float64, error) {
	return c.readFloat(name, KindAux, "SIG:PERC")
}

// Magnet power supply.

func (c *Controller) ReadVoltage(name string) (float64, error) {
	return c.readFloat(name, KindPSU, "SIG:VOLT")
}

func (c *Controller) ReadCurrent(name string) (float64, error) {
	return c.readFloat(name, KindPSU, "SIG:CURR")
}

func (c *Controller) ReadField(name string) (float64, error) {
	return c.readFloat(name, KindPSU, "SIG:FLD")
}

func (c *Controller) ReadTargetCurrent(name string) (float64, error) {
	return c.readFloat(name, KindPSU, "SIG:CSET")
}

func (c *Controller) ReadTargetField(name string) (float64, error) {
	return c.readFloat(name, KindPSU, "SIG:FSET")
}

// ReadCurrentRate returns the current ramp rate in A/min.
func (c *Controller) ReadCurrentRate(name string) (float64, error) {
	return c.readFloat(name, KindPSU, "SIG:RCST")
}

// ReadFieldRate returns the field ramp rate in T/min.
func (c *Controller) ReadFieldRate(name string) (float64, error) {
	return c.readFloat(name, KindPSU, "SIG:RFST")
}

func (c *Controller) ReadSwitchHeater(name string) (string, error) {
	return c.readRaw(name, KindPSU, "SIG:SWHT")
}

// ReadAction returns the PSU action, e.g. HOLD, RTOS or RTOZ.
func (c *Controller) ReadAction(name string) (string, error) {
	return c.readRaw(name, KindPSU, "ACTN")
}

func (c *Controller) SetTargetField(name string, tesla float64) error {
	return c.write(name, KindPSU, "SIG:FSET", formatFloat(tesla))
}

func (c *Controller) SetCurrentRate(name string, ampsPerMin float64) error {
	return c.write(name, KindPSU, "SIG:RCST", formatFloat(ampsPerMin))
}

func (c *Controller) SetFieldRate(name string, teslaPerMin float64) error {
	return c.write(name, KindPSU, "SIG:RFST", formatFloat(teslaPerMin))
}

// Hold stops a ramp at the present output.
func (c *Controller) Hold(name string) error {
	return c.write(name, KindPSU, "ACTN", ActionHold)
}

// GotoSet ramps to the target field.
func (c *Controller) GotoSet(name string) error {
	return c.write(name, KindPSU, "ACTN", ActionRampToSet)
}

// GotoZero ramps the output to zero.
func (c *Controller) GotoZero(name string) error {
	return c.write(name, KindPSU, "ACTN", ActionRampToZero)
}
