package obd

import (
	"fmt"
	"strings"
)

// Status records which OBD mode reported a trouble code; the code bytes
// themselves carry no status.
type Status string

const (
	StatusStored    Status = "stored"    // Mode 03
	StatusPending   Status = "pending"   // Mode 07
	StatusPermanent Status = "permanent" // Mode 0A
)

// DTC is one decoded Diagnostic Trouble Code.
type DTC struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
}

// Manufacturer selects which description table overlays the generic one.
// A closed set of variants, chosen explicitly by the caller; there is no
// string-keyed dispatch at lookup time.
type Manufacturer int

const (
	Generic Manufacturer = iota
	Chrysler
	LandRover
)

func (m Manufacturer) String() string {
	switch m {
	case Chrysler:
		return "chrysler"
	case LandRover:
		return "land_rover"
	default:
		return "generic"
	}
}

// ManufacturerFromString maps a config value onto the closed set; unknown
// values fall back to the generic table.
func ManufacturerFromString(s string) Manufacturer {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chrysler", "jeep", "dodge":
		return Chrysler
	case "land_rover", "landrover", "land rover", "rover":
		return LandRover
	default:
		return Generic
	}
}

var categoryLetters = [4]byte{'P', 'C', 'B', 'U'}

// DecodeDTC converts a raw 2-byte trouble-code word into the standard
// alphanumeric form: the top two bits select the category letter, the next
// two bits the first digit, the remaining 12 bits three hex digits.
func DecodeDTC(hi, lo byte) string {
	letter := categoryLetters[hi>>6]
	return fmt.Sprintf("%c%d%03X", letter, (hi>>4)&0x03, int(hi&0x0F)<<8|int(lo))
}

// ParseDTCPayload extracts trouble codes from a Mode 03/07/0A response
// payload. The payload starts at the mode echo byte (0x43/0x47/0x4A).
// CAN responses carry a count byte after the echo; pre-CAN buses do not —
// the leftover parity of the payload tells the two layouts apart. Zeroed
// pairs are padding.
func ParseDTCPayload(payload []byte, status Status) []DTC {
	if len(payload) == 0 {
		return nil
	}

	rest := payload[1:] // drop the mode echo
	if len(rest)%2 == 1 {
		rest = rest[1:] // CAN layout: first byte is the code count
	}

	var out []DTC
	for i := 0; i+1 < len(rest); i += 2 {
		if rest[i] == 0 && rest[i+1] == 0 {
			continue
		}
		out = append(out, DTC{Code: DecodeDTC(rest[i], rest[i+1]), Status: status})
	}
	return out
}

// Describe resolves the human-readable description for a code. The
// manufacturer table overrides and extends the generic one; unknown codes
// return ok=false so callers can keep the raw code.
func Describe(code string, m Manufacturer) (string, bool) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if t := manufacturerTable(m); t != nil {
		if desc, ok := t[key]; ok {
			return desc, true
		}
	}
	desc, ok := genericDTCs[key]
	return desc, ok
}

func manufacturerTable(m Manufacturer) map[string]string {
	switch m {
	case Chrysler:
		return chryslerDTCs
	case LandRover:
		return landRoverDTCs
	default:
		return nil
	}
}
