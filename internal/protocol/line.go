package protocol

import (
	"strings"
)

// LineKind classifies one raw adapter reply line.
type LineKind int

const (
	// LineData is a hex byte dump, optionally prefixed with an arbitration id.
	LineData LineKind = iota
	// LineSentinel is a terminal adapter token (NO DATA, ERROR, ...).
	LineSentinel
	// LineNoise is chatter that carries no payload (SEARCHING..., OK,
	// version banners) and is skipped during reassembly.
	LineNoise
)

// RawLine is one parsed adapter reply line.
type RawLine struct {
	Kind     LineKind
	Header   string // arbitration id, empty when headers are off
	Data     []byte // payload bytes including any ISO-TP PCI prefix
	Sentinel string // normalized token for LineSentinel
	Text     string // original line, trimmed
}

// Sentinel tokens that terminate a request. BUS INIT lines only count when
// they report an error; a plain "BUS INIT: OK" is progress chatter.
var sentinelPrefixes = []string{
	"NO DATA",
	"UNABLE TO CONNECT",
	"CAN ERROR",
	"BUS ERROR",
	"DATA ERROR",
	"BUFFER FULL",
	"BUS BUSY",
	"STOPPED",
	"FB ERROR",
	"ERROR",
}

var noisePrefixes = []string{
	"SEARCHING",
	"ELM327",
	"OK",
}

// ParseLine classifies and tokenizes one reply line. With headersOn the
// first token of a data line is taken as the arbitration id; the ELM327 is
// configured with spaces on (ATS1) in that mode so tokens split cleanly.
func ParseLine(line string, headersOn bool) RawLine {
	trimmed := strings.TrimSpace(line)
	up := strings.ToUpper(trimmed)

	if trimmed == "" {
		return RawLine{Kind: LineNoise, Text: trimmed}
	}
	if strings.HasPrefix(up, "BUS INIT") {
		if strings.Contains(up, "ERROR") {
			return RawLine{Kind: LineSentinel, Sentinel: "BUS INIT: ERROR", Text: trimmed}
		}
		return RawLine{Kind: LineNoise, Text: trimmed}
	}
	for _, p := range sentinelPrefixes {
		if strings.HasPrefix(up, p) {
			return RawLine{Kind: LineSentinel, Sentinel: p, Text: trimmed}
		}
	}
	if strings.Contains(up, "?") {
		return RawLine{Kind: LineSentinel, Sentinel: "?", Text: trimmed}
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(up, p) {
			return RawLine{Kind: LineNoise, Text: trimmed}
		}
	}

	tokens := hexTokens(up)
	if len(tokens) == 0 {
		return RawLine{Kind: LineNoise, Text: trimmed}
	}

	header := ""
	if headersOn && len(tokens) > 1 && len(tokens[0]) >= 3 {
		header = tokens[0]
		tokens = tokens[1:]
	}

	data := tokensToBytes(tokens)
	if len(data) == 0 {
		return RawLine{Kind: LineNoise, Text: trimmed}
	}
	return RawLine{Kind: LineData, Header: header, Data: data, Text: trimmed}
}

// ParseLines classifies a whole reply burst.
func ParseLines(lines []string, headersOn bool) []RawLine {
	out := make([]RawLine, 0, len(lines))
	for _, ln := range lines {
		out = append(out, ParseLine(ln, headersOn))
	}
	return out
}

// hexTokens strips anything that is not a hex digit or space and splits the
// remainder into tokens. Clone adapters love to mix stray text into replies.
func hexTokens(s string) []string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Fields(b.String())
}

// tokensToBytes flattens hex tokens into bytes. Tokens longer than two
// digits (adapters running with spaces off) are split into byte pairs; an
// odd leading digit is treated as a single nibble byte.
func tokensToBytes(tokens []string) []byte {
	var out []byte
	for _, tok := range tokens {
		t := tok
		if len(t)%2 == 1 {
			out = append(out, hexVal(t[0]))
			t = t[1:]
		}
		for i := 0; i+2 <= len(t); i += 2 {
			out = append(out, hexVal(t[i])<<4|hexVal(t[i+1]))
		}
	}
	return out
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
