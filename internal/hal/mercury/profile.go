package mercury

// Profile declares which device kinds a controller model exposes in its
// status snapshot and which devices are excluded by name.
type Profile struct {
	Model  string
	Kinds  []Kind
	Ignore []string
}

// ITC is the Mercury iTC temperature controller.
func ITC(ignore ...string) Profile {
	return Profile{
		Model:  "Mercury ITC",
		Kinds:  []Kind{KindTemperature, KindHeater, KindPressure, KindAux},
		Ignore: ignore,
	}
}

// IPS is the Mercury iPS magnet power supply.
func IPS(ignore ...string) Profile {
	return Profile{
		Model:  "Mercury IPS",
		Kinds:  []Kind{KindTemperature, KindPSU},
		Ignore: ignore,
	}
}

func (p Profile) polls(kind Kind) bool {
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (p Profile) ignores(name string) bool {
	for _, n := range p.Ignore {
		if n == name {
			return true
		}
	}
	return false
}
