package protocol

import (
	"fmt"
)

// Message is one fully reassembled response payload from a single ECU.
type Message struct {
	Header string // arbitration id, empty when headers are off
	Data   []byte // concatenated payload, ISO-TP PCI stripped
	Frames int    // number of raw lines that contributed
}

// assembly tracks an in-progress multi-frame payload for one arbitration id.
type assembly struct {
	header  string
	total   int
	data    []byte
	nextSeq byte
	frames  int
	order   int
}

// Reassemble groups data lines by arbitration id and applies the ISO-TP
// single/first/consecutive frame rules. Lines from different ids accumulate
// independently, so multi-ECU replies (e.g. a VIN request answered by both
// engine and transmission) come back as separate messages.
//
// A missing or out-of-order consecutive frame fails the whole request with
// ErrMalformedResponse rather than returning a spliced payload.
func Reassemble(lines []RawLine) ([]Message, error) {
	var done []Message
	open := make(map[string]*assembly)
	order := 0

	for _, ln := range lines {
		if ln.Kind != LineData || len(ln.Data) == 0 {
			continue
		}

		pci := ln.Data[0] >> 4
		switch pci {
		case 0x0:
			// Single frame: low nibble is the payload length.
			length := int(ln.Data[0] & 0x0F)
			if length == 0 || length > len(ln.Data)-1 {
				// Not a plausible PCI byte; K-line replies carry none.
				done = append(done, Message{Header: ln.Header, Data: ln.Data, Frames: 1})
				continue
			}
			done = append(done, Message{Header: ln.Header, Data: ln.Data[1 : 1+length], Frames: 1})

		case 0x1:
			// First frame: 12-bit total length, up to 6 payload bytes here.
			if len(ln.Data) < 2 {
				return nil, fmt.Errorf("first frame from %s too short: %w", ln.Header, ErrMalformedResponse)
			}
			total := int(ln.Data[0]&0x0F)<<8 | int(ln.Data[1])
			if total == 0 {
				return nil, fmt.Errorf("first frame from %s declares zero length: %w", ln.Header, ErrMalformedResponse)
			}
			a := &assembly{header: ln.Header, total: total, nextSeq: 1, frames: 1, order: order}
			order++
			a.data = append(a.data, ln.Data[2:]...)
			if len(a.data) > total {
				a.data = a.data[:total]
			}
			open[ln.Header] = a

		case 0x2:
			// Consecutive frame: low nibble is a sequence number cycling 0-15.
			a := open[ln.Header]
			if a == nil {
				return nil, fmt.Errorf("consecutive frame from %s without first frame: %w", ln.Header, ErrMalformedResponse)
			}
			seq := ln.Data[0] & 0x0F
			if seq != a.nextSeq {
				return nil, fmt.Errorf("frame from %s out of order: got seq %d, want %d: %w",
					ln.Header, seq, a.nextSeq, ErrMalformedResponse)
			}
			a.nextSeq = (a.nextSeq + 1) & 0x0F
			a.frames++
			a.data = append(a.data, ln.Data[1:]...)
			if len(a.data) > a.total {
				a.data = a.data[:a.total]
			}
			if len(a.data) == a.total {
				done = append(done, Message{Header: a.header, Data: a.data, Frames: a.frames})
				delete(open, ln.Header)
			}

		case 0x3:
			// Flow control from another tester; not part of the payload.
			continue

		default:
			// No ISO-TP framing (K-line, pre-CAN protocols): the line is the payload.
			done = append(done, Message{Header: ln.Header, Data: ln.Data, Frames: 1})
		}
	}

	for _, a := range open {
		return nil, fmt.Errorf("incomplete response from %s: have %d of %d bytes: %w",
			a.header, len(a.data), a.total, ErrMalformedResponse)
	}
	return done, nil
}
