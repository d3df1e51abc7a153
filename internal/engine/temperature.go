package engine

import (
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal/mercury"
)

// TemperatureController is the part of a Mercury controller the
// temperature engine drives.
type TemperatureController interface {
	FirstOfKind(kind mercury.Kind) (mercury.Device, bool)
	ReadTemperature(name string) (float64, error)
	ReadTemperatureSetpoint(name string) (float64, error)
	SetTemperatureSetpoint(name string, kelvin float64) error
	EnableTemperatureControl(name string) error
	DisableTemperatureControl(name string) error
}

// Temperature controls one temperature loop. An empty device name selects
// the controller's first temperature sensor once connected.
type Temperature struct {
	ctrl   TemperatureController
	device string
}

func NewTemperature(ctrl TemperatureController, device string) *Temperature {
	return &Temperature{ctrl: ctrl, device: device}
}

// Device returns the name of the controlled sensor.
func (t *Temperature) Device() (string, error) {
	if t.device != "" {
		return t.device, nil
	}
	d, ok := t.ctrl.FirstOfKind(mercury.KindTemperature)
	if !ok {
		return "", errors.New().WithData(ErrNoDevice, mercury.KindTemperature)
	}
	return d.Name, nil
}

// BeginControl sets the setpoint and enables the loop.
func (t *Temperature) BeginControl(kelvin float64) error {
	name, err := t.Device()
	if err != nil {
		return err
	}
	if err := t.ctrl.SetTemperatureSetpoint(name, kelvin); err != nil {
		return err
	}
	return t.ctrl.EnableTemperatureControl(name)
}

func (t *Temperature) EndControl() error {
	name, err := t.Device()
	if err != nil {
		return err
	}
	return t.ctrl.DisableTemperatureControl(name)
}

func (t *Temperature) Read() (float64, error) {
	name, err := t.Device()
	if err != nil {
		return 0, err
	}
	return t.ctrl.ReadTemperature(name)
}

func (t *Temperature) ReadSetpoint() (float64, error) {
	name, err := t.Device()
	if err != nil {
		return 0, err
	}
	return t.ctrl.ReadTemperatureSetpoint(name)
}
