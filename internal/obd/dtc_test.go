package obd

import "testing"

func TestDecodeDTC(t *testing.T) {
	tests := []struct {
		hi, lo byte
		want   string
	}{
		{0x04, 0x20, "P0420"},
		{0x01, 0x71, "P0171"},
		{0x13, 0x00, "P1300"},
		{0x40, 0x35, "C0035"},
		{0x80, 0x01, "B0001"},
		{0xC1, 0x00, "U0100"},
		{0x01, 0x0A, "P010A"},
	}
	for _, tt := range tests {
		if got := DecodeDTC(tt.hi, tt.lo); got != tt.want {
			t.Errorf("DecodeDTC(%02X, %02X) = %q, want %q", tt.hi, tt.lo, got, tt.want)
		}
	}
}

func TestDecodeDTCDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if got := DecodeDTC(0x04, 0x20); got != "P0420" {
			t.Fatalf("run %d: DecodeDTC = %q, want P0420", i, got)
		}
	}
}

func TestParseDTCPayloadCAN(t *testing.T) {
	// CAN layout: mode echo, count byte, then code pairs. Odd remainder
	// after the echo marks the count byte.
	payload := []byte{0x43, 0x02, 0x04, 0x20, 0x01, 0x71}
	dtcs := ParseDTCPayload(payload, StatusStored)
	if len(dtcs) != 2 {
		t.Fatalf("got %d codes, want 2", len(dtcs))
	}
	if dtcs[0].Code != "P0420" || dtcs[1].Code != "P0171" {
		t.Errorf("codes = %s, %s, want P0420, P0171", dtcs[0].Code, dtcs[1].Code)
	}
	for _, d := range dtcs {
		if d.Status != StatusStored {
			t.Errorf("%s status = %s, want stored", d.Code, d.Status)
		}
	}
}

func TestParseDTCPayloadKLine(t *testing.T) {
	// Pre-CAN layout: no count byte; zeroed pairs are padding.
	payload := []byte{0x43, 0x04, 0x20, 0x00, 0x00, 0x00, 0x00}
	dtcs := ParseDTCPayload(payload, StatusPending)
	if len(dtcs) != 1 {
		t.Fatalf("got %d codes, want 1", len(dtcs))
	}
	if dtcs[0].Code != "P0420" {
		t.Errorf("code = %s, want P0420", dtcs[0].Code)
	}
}

func TestParseDTCPayloadEmpty(t *testing.T) {
	if dtcs := ParseDTCPayload(nil, StatusStored); dtcs != nil {
		t.Errorf("got %v from empty payload, want nil", dtcs)
	}
	// Count byte zero, no codes.
	if dtcs := ParseDTCPayload([]byte{0x43, 0x00}, StatusStored); dtcs != nil {
		t.Errorf("got %v from zero-count payload, want nil", dtcs)
	}
}

func TestDescribeManufacturerOverlay(t *testing.T) {
	// Chrysler-specific code: only found with the Chrysler table selected.
	if _, ok := Describe("P1281", Generic); ok {
		t.Error("P1281 should not resolve in the generic table")
	}
	desc, ok := Describe("P1281", Chrysler)
	if !ok || desc == "" {
		t.Error("P1281 should resolve with the Chrysler table")
	}

	// Generic code resolves regardless of manufacturer.
	if _, ok := Describe("P0420", LandRover); !ok {
		t.Error("P0420 should fall back to the generic table")
	}

	// Manufacturer wording overrides the generic entry.
	chrysler, _ := Describe("P0562", Chrysler)
	generic, _ := Describe("P0562", Generic)
	if chrysler == generic {
		t.Error("Chrysler P0562 should override the generic description")
	}
}

func TestDescribeUnknownCode(t *testing.T) {
	if desc, ok := Describe("P3FFF", Generic); ok {
		t.Errorf("unexpected description %q for unknown code", desc)
	}
}

func TestManufacturerFromString(t *testing.T) {
	tests := []struct {
		in   string
		want Manufacturer
	}{
		{"chrysler", Chrysler},
		{"Jeep", Chrysler},
		{"dodge", Chrysler},
		{"land_rover", LandRover},
		{"Land Rover", LandRover},
		{"generic", Generic},
		{"", Generic},
		{"toyota", Generic},
	}
	for _, tt := range tests {
		if got := ManufacturerFromString(tt.in); got != tt.want {
			t.Errorf("ManufacturerFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
