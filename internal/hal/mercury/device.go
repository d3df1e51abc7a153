package mercury

import (
	"strings"
)

// Kind is the device class encoded in a catalogue entry.
type Kind string

const (
	KindTemperature Kind = "TEMP"
	KindHeater      Kind = "HTR"
	KindPressure    Kind = "PRES"
	KindAux         Kind = "AUX"
	KindPSU         Kind = "PSU"
)

func (k Kind) valid() bool {
	switch k {
	case KindTemperature, KindHeater, KindPressure, KindAux, KindPSU:
		return true
	}
	return false
}

// Device is one catalogue entry. ID is "<uid>:<KIND>" as used in commands;
// Name is the nickname, or the uid when none could be read.
type Device struct {
	ID   string
	UID  string
	Kind Kind
	Name string
}

// parseCatalogue extracts devices from a READ:SYS:CAT reply of the form
// STAT:SYS:CAT:DEV:<uid>:<KIND>:DEV:<uid>:<KIND>...
func parseCatalogue(reply string) ([]Device, bool) {
	const prefix = "STAT:SYS:CAT"
	if !strings.HasPrefix(reply, prefix) {
		return nil, false
	}

	tokens := strings.Split(strings.TrimPrefix(reply, prefix), ":")
	var devices []Device
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i] != "DEV" {
			continue
		}
		uid, kind := tokens[i+1], Kind(tokens[i+2])
		i += 2
		if uid == "" || !kind.valid() {
			continue
		}
		devices = append(devices, Device{
			ID:   uid + ":" + string(kind),
			UID:  uid,
			Kind: kind,
			Name: uid,
		})
	}
	return devices, true
}

// Units in the order they are tried, longest first so "A/min" wins over "A".
var units = []string{"A/min", "T/min", "mB", "K", "W", "%", "T", "V", "A"}

func stripUnit(v string) string {
	for _, u := range units {
		if strings.HasSuffix(v, u) {
			return strings.TrimSuffix(v, u)
		}
	}
	return v
}

// lastSegment returns the value after the final colon of a reply.
func lastSegment(reply string) string {
	if i := strings.LastIndexByte(reply, ':'); i >= 0 {
		return reply[i+1:]
	}
	return reply
}
