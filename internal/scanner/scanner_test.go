package scanner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaunagostinho/obdscan/internal/adapter"
	"github.com/shaunagostinho/obdscan/internal/protocol"
)

func testPolicy() protocol.Policy {
	return protocol.Policy{MaxRetries: 2, Timeout: 100 * time.Millisecond, Settle: 0}
}

var vinSteps = []adapter.ReplayStep{
	{Command: "ATDPN", Lines: []string{"A6"}},
	{Command: "0902", Lines: []string{
		"7E8 10 14 49 02 01 57 50 30",
		"7E8 21 5A 5A 5A 39 39 5A 54",
		"7E8 22 53 33 39 32 31 32 33",
	}},
	{Command: "0101", Lines: []string{"7E8 06 41 01 00 07 E5 00"}},
}

func TestVehicleInfoFromFixture(t *testing.T) {
	f := &Fixture{
		Meta:  FixtureMeta{HeadersOn: true, ELMVersion: "ELM327 v1.5", Protocol: "6"},
		Steps: vinSteps,
	}
	sc, rt := NewReplayScanner(f, testPolicy())

	info, err := sc.VehicleInfo()
	if err != nil {
		t.Fatalf("VehicleInfo failed: %v", err)
	}
	if info.VIN != "WP0ZZZ99ZTS392123" {
		t.Errorf("VIN = %q, want WP0ZZZ99ZTS392123", info.VIN)
	}
	if info.DTCCount != 0 {
		t.Errorf("DTCCount = %d, want 0", info.DTCCount)
	}
	if info.MILOn {
		t.Error("MILOn = true, want false")
	}
	if info.Protocol != "6" || !info.AutoProtocol {
		t.Errorf("protocol = %q auto %v, want 6 true", info.Protocol, info.AutoProtocol)
	}
	if sc.State() != Ready {
		t.Errorf("state = %v, want Ready", sc.State())
	}
	if rt.Remaining() != 0 {
		t.Errorf("%d fixture steps left unconsumed", rt.Remaining())
	}
}

func TestLoadFixtureFile(t *testing.T) {
	raw := `{
  "meta": {"headers_on": true, "elm_version": "ELM327 v1.5", "protocol": "6", "manufacturer": "generic"},
  "steps": [
    {"command": "ATDPN", "lines": ["A6"]},
    {"command": "0902", "lines": [
      "7E8 10 14 49 02 01 57 50 30",
      "7E8 21 5A 5A 5A 39 39 5A 54",
      "7E8 22 53 33 39 32 31 32 33"
    ]},
    {"command": "0101", "lines": ["7E8 06 41 01 00 07 E5 00"]}
  ],
  "expected": {"vehicle_info": {"vin": "WP0ZZZ99ZTS392123", "dtc_count": "0"}}
}`
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture failed: %v", err)
	}
	sc, _ := NewReplayScanner(f, testPolicy())

	info, err := sc.VehicleInfo()
	if err != nil {
		t.Fatalf("VehicleInfo failed: %v", err)
	}
	if info.VIN != f.Expected.VehicleInfo["vin"] {
		t.Errorf("VIN = %q, want %q", info.VIN, f.Expected.VehicleInfo["vin"])
	}
	if f.Expected.VehicleInfo["dtc_count"] != "0" || info.DTCCount != 0 {
		t.Errorf("DTCCount = %d, want 0", info.DTCCount)
	}
}

func TestNoDataPastRetryBoundLeavesReady(t *testing.T) {
	f := &Fixture{
		Meta: FixtureMeta{HeadersOn: true},
		Steps: []adapter.ReplayStep{
			{Command: "0101", Lines: []string{"NO DATA"}},
			{Command: "0101", Lines: []string{"NO DATA"}},
			{Command: "0101", Lines: []string{"NO DATA"}},
		},
	}
	sc, _ := NewReplayScanner(f, testPolicy())

	_, err := sc.ReadReadiness()
	if !errors.Is(err, protocol.ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	// The bus itself is healthy: the scanner must stay connected.
	if sc.State() != Ready {
		t.Errorf("state = %v, want Ready", sc.State())
	}
}

func TestScanDisconnectKeepsPartialResult(t *testing.T) {
	steps := append(append([]adapter.ReplayStep{}, vinSteps...),
		adapter.ReplayStep{Command: "03", Lines: []string{"7E8 04 43 01 04 20"}},
		adapter.ReplayStep{Command: "07", Lines: []string{"NO DATA"}},
		adapter.ReplayStep{Command: "0A", Lines: []string{"NO DATA"}},
		adapter.ReplayStep{Command: "0101", Error: "disconnect"},
	)
	f := &Fixture{Meta: FixtureMeta{HeadersOn: true}, Steps: steps}
	// No retries so each NO DATA consumes exactly one step.
	sc, _ := NewReplayScanner(f, protocol.Policy{MaxRetries: 0, Timeout: 100 * time.Millisecond})

	res, err := sc.Scan()
	if !errors.Is(err, protocol.ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
	if res == nil {
		t.Fatal("partial result lost")
	}
	if len(res.DTCs) != 1 || res.DTCs[0].Code != "P0420" {
		t.Errorf("DTCs = %+v, want the P0420 read before the drop", res.DTCs)
	}
	if res.Vehicle.VIN != "WP0ZZZ99ZTS392123" {
		t.Errorf("VIN = %q, want the value read before the drop", res.Vehicle.VIN)
	}
	if len(res.Incomplete) != 1 || res.Incomplete[0] != "readiness" {
		t.Errorf("Incomplete = %v, want [readiness]", res.Incomplete)
	}
	if sc.State() != Disconnected {
		t.Errorf("state = %v, want Disconnected after transport drop", sc.State())
	}

	// Disconnect stays legal after the forced teardown.
	if err := sc.Disconnect(); err != nil {
		t.Errorf("Disconnect after drop failed: %v", err)
	}
}

func TestReadDTCsDeduplicates(t *testing.T) {
	f := &Fixture{
		Meta: FixtureMeta{HeadersOn: true, Manufacturer: "generic"},
		Steps: []adapter.ReplayStep{
			{Command: "03", Lines: []string{"7E8 04 43 01 04 20"}},
			{Command: "07", Lines: []string{"7E8 04 47 01 04 20"}}, // same code, pending
			{Command: "0A", Lines: []string{"NO DATA"}},
		},
	}
	sc, _ := NewReplayScanner(f, protocol.Policy{MaxRetries: 0, Timeout: 100 * time.Millisecond})

	dtcs, err := sc.ReadDTCs()
	if err != nil {
		t.Fatalf("ReadDTCs failed: %v", err)
	}
	if len(dtcs) != 1 {
		t.Fatalf("got %d codes, want 1 after dedupe", len(dtcs))
	}
	if dtcs[0].Code != "P0420" || dtcs[0].Status != "stored" {
		t.Errorf("code = %+v, want stored P0420", dtcs[0])
	}
	if dtcs[0].Description == "" {
		t.Error("P0420 should carry a generic description")
	}
}

func TestOperationsRequireReady(t *testing.T) {
	sc := New()
	if _, err := sc.ReadDTCs(); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
	if err := sc.Disconnect(); err != nil {
		t.Errorf("Disconnect from Disconnected failed: %v", err)
	}
}

func TestClearCodesAcknowledged(t *testing.T) {
	f := &Fixture{
		Meta: FixtureMeta{HeadersOn: true},
		Steps: []adapter.ReplayStep{
			{Command: "04", Lines: []string{"7E8 01 44"}},
		},
	}
	sc, _ := NewReplayScanner(f, testPolicy())
	if err := sc.ClearCodes(); err != nil {
		t.Errorf("ClearCodes failed: %v", err)
	}
	if sc.State() != Ready {
		t.Errorf("state = %v, want Ready", sc.State())
	}
}
