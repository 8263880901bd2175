// Package uds layers ISO 14229 discovery on top of the ELM command engine.
// Requests are ordinary hex commands; the engine's retry and reassembly
// rules apply unchanged.
package uds

import (
	"errors"
	"fmt"
	"strings"
)

const negativeResponseSID = 0x7F

// ErrUnsupported marks a DID or service the ECU does not implement. It is
// a valid discovery outcome, not a failure: sweeps record it and move on.
var ErrUnsupported = errors.New("uds: not supported")

// ErrSecurityDenied marks NRC 0x33, a DID that exists but is locked behind
// security access.
var ErrSecurityDenied = errors.New("uds: security access denied")

var serviceNames = map[byte]string{
	0x10: "Diagnostic Session Control",
	0x11: "ECU Reset",
	0x14: "Clear Diagnostic Information",
	0x19: "Read DTC Information",
	0x22: "Read Data By Identifier",
	0x27: "Security Access",
	0x2E: "Write Data By Identifier",
	0x31: "Routine Control",
	0x3E: "Tester Present",
}

// ServiceName names a UDS service id for log and report output.
func ServiceName(sid byte) string {
	if n, ok := serviceNames[sid]; ok {
		return n
	}
	return fmt.Sprintf("Unknown (0x%02X)", sid)
}

var nrcNames = map[byte]string{
	0x10: "general reject",
	0x11: "service not supported",
	0x12: "sub-function not supported",
	0x13: "incorrect message length",
	0x22: "conditions not correct",
	0x31: "request out of range",
	0x33: "security access denied",
	0x35: "invalid key",
	0x78: "response pending",
	0x7F: "service not supported in active session",
}

// NegativeResponse is a decoded 0x7F reply.
type NegativeResponse struct {
	Service byte
	NRC     byte
}

func (n NegativeResponse) Error() string {
	desc, ok := nrcNames[n.NRC]
	if !ok {
		desc = "unknown NRC"
	}
	return fmt.Sprintf("uds: %s rejected: %s (0x%02X)", ServiceName(n.Service), desc, n.NRC)
}

// Unwrap maps the two NRCs with defined discovery semantics onto sentinel
// errors so callers can errors.Is without inspecting codes.
func (n NegativeResponse) Unwrap() error {
	switch n.NRC {
	case 0x31:
		return ErrUnsupported
	case 0x33:
		return ErrSecurityDenied
	}
	return nil
}

// parseNegative returns the decoded negative response if the payload is one.
func parseNegative(payload []byte) (NegativeResponse, bool) {
	if len(payload) >= 3 && payload[0] == negativeResponseSID {
		return NegativeResponse{Service: payload[1], NRC: payload[2]}, true
	}
	return NegativeResponse{}, false
}

// Module is one addressable ECU on the diagnostic bus.
type Module struct {
	Name string `json:"name"`
	TxID string `json:"txId"`
	RxID string `json:"rxId"`
}

// StandardModules are the physical addresses mandated by ISO 15765-4.
// Brand-specific module maps need per-vehicle reverse engineering; these
// two answer on nearly every CAN car.
func StandardModules() []Module {
	return []Module{
		{Name: "generic_engine", TxID: "7E0", RxID: "7E8"},
		{Name: "generic_transmission", TxID: "7E1", RxID: "7E9"},
	}
}

// FindModule resolves a module by name, case-insensitively.
func FindModule(name string) (Module, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, m := range StandardModules() {
		if strings.ToLower(m.Name) == want {
			return m, true
		}
	}
	return Module{}, false
}
