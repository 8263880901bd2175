package scanner

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shaunagostinho/obdscan/internal/adapter"
	"github.com/shaunagostinho/obdscan/internal/obd"
	"github.com/shaunagostinho/obdscan/internal/protocol"
)

// FixtureMeta describes the adapter state a recording was captured under.
type FixtureMeta struct {
	HeadersOn    bool   `json:"headers_on"`
	ELMVersion   string `json:"elm_version"`
	Protocol     string `json:"protocol"`
	Manufacturer string `json:"manufacturer"`
	Ignition     string `json:"ignition,omitempty"`
}

// FixtureExpected is the result a fixture's steps must decode to.
type FixtureExpected struct {
	VehicleInfo map[string]string `json:"vehicle_info,omitempty"`
	DTCs        []obd.DTC         `json:"dtcs,omitempty"`
	Readiness   json.RawMessage   `json:"readiness,omitempty"`
}

// Fixture is a replayable adapter recording: the exact command/reply
// exchange of one session, plus what it must decode to.
type Fixture struct {
	Meta     FixtureMeta          `json:"meta"`
	Steps    []adapter.ReplayStep `json:"steps"`
	Expected FixtureExpected      `json:"expected,omitempty"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

// NewReplayScanner builds a Ready scanner driven by a fixture's canned
// steps instead of a serial port. The fixture records a session after
// bring-up, so the scanner starts in Ready with the recorded adapter state
// applied; the first fixture step answers the first operation issued.
func NewReplayScanner(f *Fixture, policy protocol.Policy) (*Scanner, *adapter.ReplayTransport) {
	t := adapter.NewReplayTransport(f.Steps)
	cfg := adapter.Config{HeadersOn: f.Meta.HeadersOn, Protocol: f.Meta.Protocol}
	eng := protocol.NewEngine(adapter.NewSession(t, cfg), policy)
	eng.ElmVersion = f.Meta.ELMVersion
	eng.Protocol = f.Meta.Protocol

	s := New()
	s.Manufacturer = obd.ManufacturerFromString(f.Meta.Manufacturer)
	s.Ignition = obd.IgnitionFromString(f.Meta.Ignition)
	s.eng = eng
	s.state = Ready
	return s, t
}
