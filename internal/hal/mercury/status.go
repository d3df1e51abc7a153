package mercury

import "codeberg.org/teralab/teractl/internal/hal"

type field struct {
	key  string
	read func(c *Controller, name string) (any, error)
}

func floatField(key string, read func(*Controller, string) (float64, error)) field {
	return field{key: key, read: func(c *Controller, name string) (any, error) { return read(c, name) }}
}

func stringField(key string, read func(*Controller, string) (string, error)) field {
	return field{key: key, read: func(c *Controller, name string) (any, error) { return read(c, name) }}
}

var fieldsByKind = map[Kind][]field{
	KindTemperature: {
		floatField("temperature_K", (*Controller).ReadTemperature),
		floatField("setpoint_K", (*Controller).ReadTemperatureSetpoint),
		{key: "loop_enabled", read: func(c *Controller, name string) (any, error) { return c.ReadLoopEnabled(name) }},
	},
	KindHeater: {
		floatField("power_W", (*Controller).ReadHeaterPower),
	},
	KindPressure: {
		floatField("pressure_mbar", (*Controller).ReadPressure),
	},
	KindAux: {
		floatField("needle_valve_percent", (*Controller).ReadNeedleValve),
	},
	KindPSU: {
		floatField("voltage_V", (*Controller).ReadVoltage),
		floatField("current_A", (*Controller).ReadCurrent),
		floatField("field_T", (*Controller).ReadField),
		floatField("target_current_A", (*Controller).ReadTargetCurrent),
		floatField("target_field_T", (*Controller).ReadTargetField),
		floatField("current_rate_A_min", (*Controller).ReadCurrentRate),
		floatField("field_rate_T_min", (*Controller).ReadFieldRate),
		stringField("switch_heater", (*Controller).ReadSwitchHeater),
		stringField("action", (*Controller).ReadAction),
	},
}

// Status walks the catalogue once and reads every exposed field of every
// polled, non-ignored device. A field that fails to read is nil; the rest
// of the snapshot is still returned.
func (c *Controller) Status() hal.Status {
	status := hal.Status{"connected": c.IsConnected()}

	for _, d := range c.Devices() {
		if !c.profile.polls(d.Kind) || c.profile.ignores(d.Name) {
			continue
		}

		values := hal.Status{"kind": string(d.Kind)}
		for _, f := range fieldsByKind[d.Kind] {
			v, err := f.read(c, d.Name)
			if err != nil {
				c.log.Warn().Err(err).Str("device", d.Name).Str("field", f.key).Msg("Status field unavailable")
				values[f.key] = nil
				continue
			}
			values[f.key] = v
		}
		status[d.Name] = values
	}

	return status
}
