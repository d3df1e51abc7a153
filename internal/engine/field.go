package engine

import (
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal/mercury"
)

// FieldController is the part of a Mercury iPS the field engine drives.
type FieldController interface {
	FirstOfKind(kind mercury.Kind) (mercury.Device, bool)
	SetTargetField(name string, tesla float64) error
	SetCurrentRate(name string, ampsPerMin float64) error
	SetFieldRate(name string, teslaPerMin float64) error
	GotoSet(name string) error
	GotoZero(name string) error
	Hold(name string) error
	ReadField(name string) (float64, error)
	ReadFieldRate(name string) (float64, error)
	ReadCurrentRate(name string) (float64, error)
	ReadAction(name string) (string, error)
}

// Field drives one magnet power supply. An empty device name selects the
// controller's first PSU once connected.
type Field struct {
	ctrl   FieldController
	device string
}

func NewField(ctrl FieldController, device string) *Field {
	return &Field{ctrl: ctrl, device: device}
}

func (f *Field) Device() (string, error) {
	if f.device != "" {
		return f.device, nil
	}
	d, ok := f.ctrl.FirstOfKind(mercury.KindPSU)
	if !ok {
		return "", errors.New().WithData(ErrNoDevice, mercury.KindPSU)
	}
	return d.Name, nil
}

func (f *Field) with(fn func(name string) error) error {
	name, err := f.Device()
	if err != nil {
		return err
	}
	return fn(name)
}

func (f *Field) readFloat(fn func(name string) (float64, error)) (float64, error) {
	name, err := f.Device()
	if err != nil {
		return 0, err
	}
	return fn(name)
}

func (f *Field) SetTargetField(tesla float64) error {
	return f.with(func(name string) error { return f.ctrl.SetTargetField(name, tesla) })
}

func (f *Field) SetCurrentRate(ampsPerMin float64) error {
	return f.with(func(name string) error { return f.ctrl.SetCurrentRate(name, ampsPerMin) })
}

func (f *Field) SetFieldRate(teslaPerMin float64) error {
	return f.with(func(name string) error { return f.ctrl.SetFieldRate(name, teslaPerMin) })
}

func (f *Field) GotoSet() error  { return f.with(f.ctrl.GotoSet) }
func (f *Field) GotoZero() error { return f.with(f.ctrl.GotoZero) }
func (f *Field) Hold() error     { return f.with(f.ctrl.Hold) }

func (f *Field) ReadField() (float64, error)       { return f.readFloat(f.ctrl.ReadField) }
func (f *Field) ReadFieldRate() (float64, error)   { return f.readFloat(f.ctrl.ReadFieldRate) }
func (f *Field) ReadCurrentRate() (float64, error) { return f.readFloat(f.ctrl.ReadCurrentRate) }

func (f *Field) ReadStatus() (string, error) {
	name, err := f.Device()
	if err != nil {
		return "", err
	}
	return f.ctrl.ReadAction(name)
}

func (f *Field) IsHolding() (bool, error) {
	return f.statusIs(mercury.ActionHold)
}

func (f *Field) IsRampingToSet() (bool, error) {
	return f.statusIs(mercury.ActionRampToSet)
}

func (f *Field) IsRampingToZero() (bool, error) {
	return f.statusIs(mercury.ActionRampToZero)
}

func (f *Field) statusIs(action string) (bool, error) {
	s, err := f.ReadStatus()
	if err != nil {
		return false, err
	}
	return s == action, nil
}
