package uds

import (
	"fmt"
	"strings"
)

// DIDDecoder selects how a DID payload renders into a report value.
type DIDDecoder int

const (
	DecodeHex DIDDecoder = iota
	DecodeASCII
	DecodeUint
)

// DID is one known data identifier with its display decoder.
type DID struct {
	ID      uint16
	Name    string
	Decoder DIDDecoder
}

// standardDIDs covers the ISO 14229 identification range that generic ECUs
// commonly answer. Brand DID maps would overlay this.
var standardDIDs = []DID{
	{0xF186, "Active Diagnostic Session", DecodeUint},
	{0xF187, "Manufacturer Spare Part Number", DecodeASCII},
	{0xF188, "ECU Software Number", DecodeASCII},
	{0xF189, "ECU Software Version", DecodeASCII},
	{0xF18C, "ECU Serial Number", DecodeASCII},
	{0xF190, "VIN", DecodeASCII},
	{0xF191, "ECU Hardware Number", DecodeASCII},
	{0xF194, "Supplier Software Number", DecodeASCII},
	{0xF195, "Supplier Software Version", DecodeASCII},
	{0xF197, "System Name", DecodeASCII},
	{0xF19E, "ODX File Identifier", DecodeASCII},
}

// LookupDID returns the registry entry for an identifier.
func LookupDID(id uint16) (DID, bool) {
	for _, d := range standardDIDs {
		if d.ID == id {
			return d, true
		}
	}
	return DID{}, false
}

// StandardDIDs returns the sweep candidates in ascending order.
func StandardDIDs() []DID {
	out := make([]DID, len(standardDIDs))
	copy(out, standardDIDs)
	return out
}

// DecodeValue renders a DID payload per its declared decoder.
func DecodeValue(d DID, data []byte) string {
	switch d.Decoder {
	case DecodeASCII:
		var b strings.Builder
		for _, c := range data {
			if c >= 0x20 && c < 0x7F {
				b.WriteByte(c)
			}
		}
		return strings.TrimSpace(b.String())
	case DecodeUint:
		var v uint64
		for _, c := range data {
			v = v<<8 | uint64(c)
		}
		return fmt.Sprintf("%d", v)
	default:
		return strings.ToUpper(fmt.Sprintf("%x", data))
	}
}
