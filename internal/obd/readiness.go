package obd

import (
	"fmt"
	"strings"
)

// Ignition selects the readiness monitor bit layout. SAE J1979 assigns
// different meanings to the PID 01 bytes C/D depending on ignition type;
// the caller declares it, the decoder never guesses from the payload.
type Ignition int

const (
	Spark Ignition = iota
	Compression
)

// IgnitionFromString maps a config value. Unknown values default to spark.
func IgnitionFromString(s string) Ignition {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compression", "diesel":
		return Compression
	default:
		return Spark
	}
}

// Monitor is one readiness monitor's state.
type Monitor struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Complete  bool   `json:"complete"`
}

// ReadinessState is the decoded Mode 01 PID 01 payload.
type ReadinessState struct {
	MILOn    bool      `json:"milOn"`
	DTCCount int       `json:"dtcCount"`
	Monitors []Monitor `json:"monitors"`
}

type monitorBit struct {
	name string
	bit  uint
}

// Continuous monitors live in byte B: availability bits 0-2, completeness
// bits 4-6. They are the same for both ignition types.
var continuousMonitors = []monitorBit{
	{"Misfire", 0},
	{"Fuel System", 1},
	{"Components", 2},
}

// Non-continuous monitors: availability in byte C, completeness in byte D,
// one bit per monitor. Bit positions per SAE J1979 for each ignition type.
var sparkMonitors = []monitorBit{
	{"Catalyst", 0},
	{"Heated Catalyst", 1},
	{"Evaporative System", 2},
	{"Secondary Air", 3},
	{"A/C Refrigerant", 4},
	{"Oxygen Sensor", 5},
	{"Oxygen Sensor Heater", 6},
	{"EGR System", 7},
}

var compressionMonitors = []monitorBit{
	{"NMHC Catalyst", 0},
	{"NOx/SCR Aftertreatment", 1},
	{"Boost Pressure", 3},
	{"Exhaust Gas Sensor", 5},
	{"PM Filter", 6},
	{"EGR/VVT System", 7},
}

// DecodeReadiness decodes the 4-byte Mode 01 PID 01 payload (the bytes
// after the "41 01" response header). Byte A carries MIL state and stored
// DTC count; a set bit in byte D means the monitor test is NOT complete.
func DecodeReadiness(data []byte, ign Ignition) (ReadinessState, error) {
	if len(data) < 4 {
		return ReadinessState{}, fmt.Errorf("obd: readiness payload too short: %d bytes, need 4", len(data))
	}
	a, b, c, d := data[0], data[1], data[2], data[3]

	st := ReadinessState{
		MILOn:    a&0x80 != 0,
		DTCCount: int(a & 0x7F),
	}

	for _, m := range continuousMonitors {
		avail := b&(1<<m.bit) != 0
		incomplete := b&(1<<(m.bit+4)) != 0
		st.Monitors = append(st.Monitors, Monitor{
			Name:      m.name,
			Available: avail,
			Complete:  avail && !incomplete,
		})
	}

	layout := sparkMonitors
	if ign == Compression {
		layout = compressionMonitors
	}
	for _, m := range layout {
		avail := c&(1<<m.bit) != 0
		incomplete := d&(1<<m.bit) != 0
		st.Monitors = append(st.Monitors, Monitor{
			Name:      m.name,
			Available: avail,
			Complete:  avail && !incomplete,
		})
	}
	return st, nil
}
