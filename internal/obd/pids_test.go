package obd

import "testing"

func TestDecodePIDFormulas(t *testing.T) {
	tests := []struct {
		pid  byte
		data []byte
		want float64
	}{
		{0x0C, []byte{0x1A, 0xF8}, 1726},   // RPM: word/4
		{0x05, []byte{0x7B}, 83},           // coolant: A-40
		{0x0D, []byte{0x50}, 80},           // speed
		{0x04, []byte{0xFF}, 100},          // load: A*100/255
		{0x06, []byte{0x80}, 0},            // fuel trim centered
		{0x0E, []byte{0x80}, 0},            // timing advance: A/2-64
		{0x10, []byte{0x01, 0xF4}, 5},      // MAF: word/100
		{0x42, []byte{0x33, 0x64}, 13.156}, // module voltage: word/1000
		{0x1F, []byte{0x01, 0x2C}, 300},    // run time: word
	}

	for _, tt := range tests {
		r, err := DecodePID(tt.pid, tt.data)
		if err != nil {
			t.Errorf("DecodePID(%02X) failed: %v", tt.pid, err)
			continue
		}
		if r.Value != tt.want {
			t.Errorf("DecodePID(%02X) = %v, want %v", tt.pid, r.Value, tt.want)
		}
	}
}

func TestDecodePIDShortPayload(t *testing.T) {
	if _, err := DecodePID(0x0C, []byte{0x1A}); err == nil {
		t.Error("expected error for short RPM payload")
	}
}

func TestDecodePIDUnknown(t *testing.T) {
	if _, err := DecodePID(0xFE, []byte{0x00}); err == nil {
		t.Error("expected error for unknown PID")
	}
}

func TestLookupPID(t *testing.T) {
	p, ok := LookupPID(0x0C)
	if !ok {
		t.Fatal("PID 0C not in registry")
	}
	if p.Name != "Engine RPM" || p.Unit != "rpm" || p.Bytes != 2 {
		t.Errorf("unexpected registry entry %+v", p)
	}
}

func TestDecodePIDTrailingBytesIgnored(t *testing.T) {
	// CAN frames pad the payload; only the declared width counts.
	r, err := DecodePID(0x05, []byte{0x7B, 0xAA, 0xAA})
	if err != nil {
		t.Fatalf("DecodePID failed: %v", err)
	}
	if r.Value != 83 {
		t.Errorf("Value = %v, want 83", r.Value)
	}
}
