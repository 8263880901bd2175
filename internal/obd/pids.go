package obd

import (
	"fmt"
)

// PID describes one Mode 01 parameter: its payload width and the SAE J1979
// formula converting payload bytes to a physical value.
type PID struct {
	ID     byte
	Name   string
	Unit   string
	Bytes  int
	Decode func(data []byte) float64
}

// Reading is a decoded sensor sample.
type Reading struct {
	PID   byte    `json:"pid"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	ECU   string  `json:"ecu,omitempty"`
}

func pct(data []byte) float64    { return float64(data[0]) * 100 / 255 }
func tempC(data []byte) float64  { return float64(data[0]) - 40 }
func trim(data []byte) float64   { return (float64(data[0]) - 128) * 100 / 128 }
func word(data []byte) float64   { return float64(data[0])*256 + float64(data[1]) }
func single(data []byte) float64 { return float64(data[0]) }

// pids is the static Mode 01 registry, keyed by PID so decoding is a map
// lookup per response.
var pids = map[byte]PID{
	0x04: {0x04, "Calculated Engine Load", "%", 1, pct},
	0x05: {0x05, "Engine Coolant Temperature", "°C", 1, tempC},
	0x06: {0x06, "Short Term Fuel Trim - Bank 1", "%", 1, trim},
	0x07: {0x07, "Long Term Fuel Trim - Bank 1", "%", 1, trim},
	0x08: {0x08, "Short Term Fuel Trim - Bank 2", "%", 1, trim},
	0x09: {0x09, "Long Term Fuel Trim - Bank 2", "%", 1, trim},
	0x0A: {0x0A, "Fuel Pressure", "kPa", 1, func(d []byte) float64 { return float64(d[0]) * 3 }},
	0x0B: {0x0B, "Intake Manifold Pressure", "kPa", 1, single},
	0x0C: {0x0C, "Engine RPM", "rpm", 2, func(d []byte) float64 { return word(d) / 4 }},
	0x0D: {0x0D, "Vehicle Speed", "km/h", 1, single},
	0x0E: {0x0E, "Timing Advance", "°", 1, func(d []byte) float64 { return float64(d[0])/2 - 64 }},
	0x0F: {0x0F, "Intake Air Temperature", "°C", 1, tempC},
	0x10: {0x10, "MAF Air Flow Rate", "g/s", 2, func(d []byte) float64 { return word(d) / 100 }},
	0x11: {0x11, "Throttle Position", "%", 1, pct},
	0x14: {0x14, "O2 Sensor 1 Voltage", "V", 2, func(d []byte) float64 { return float64(d[0]) / 200 }},
	0x15: {0x15, "O2 Sensor 2 Voltage", "V", 2, func(d []byte) float64 { return float64(d[0]) / 200 }},
	0x1F: {0x1F, "Run Time Since Engine Start", "sec", 2, word},
	0x2F: {0x2F, "Fuel Tank Level", "%", 1, pct},
	0x42: {0x42, "Control Module Voltage", "V", 2, func(d []byte) float64 { return word(d) / 1000 }},
	0x45: {0x45, "Relative Throttle Position", "%", 1, pct},
	0x47: {0x47, "Absolute Throttle Position B", "%", 1, pct},
	0x49: {0x49, "Accelerator Pedal Position D", "%", 1, pct},
	0x4A: {0x4A, "Accelerator Pedal Position E", "%", 1, pct},
	0x4C: {0x4C, "Commanded Throttle Actuator", "%", 1, pct},
	0x5C: {0x5C, "Engine Oil Temperature", "°C", 1, tempC},
}

// DiagnosticPIDs is the default live-data set for a scan snapshot.
var DiagnosticPIDs = []byte{0x05, 0x0C, 0x0D, 0x11, 0x45, 0x49, 0x4A, 0x4C, 0x42, 0x0B, 0x06, 0x07}

// FreezeFramePIDs are the values worth capturing from a stored freeze frame.
var FreezeFramePIDs = []byte{0x04, 0x05, 0x06, 0x07, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x11}

// LookupPID returns the registry entry for a PID.
func LookupPID(id byte) (PID, bool) {
	p, ok := pids[id]
	return p, ok
}

// SupportedPIDs lists every PID in the registry.
func SupportedPIDs() []byte {
	out := make([]byte, 0, len(pids))
	for id := range pids {
		out = append(out, id)
	}
	return out
}

// DecodePID applies the PID formula to the payload bytes that follow the
// "41 <pid>" response header. A short payload is a decode error, never a
// panic.
func DecodePID(id byte, data []byte) (Reading, error) {
	p, ok := pids[id]
	if !ok {
		return Reading{}, fmt.Errorf("obd: unsupported PID %02X", id)
	}
	if len(data) < p.Bytes {
		return Reading{}, fmt.Errorf("obd: PID %02X payload too short: %d bytes, need %d", id, len(data), p.Bytes)
	}
	return Reading{
		PID:   id,
		Name:  p.Name,
		Value: p.Decode(data[:p.Bytes]),
		Unit:  p.Unit,
	}, nil
}
