package scanner

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shaunagostinho/obdscan/internal/obd"
	"github.com/shaunagostinho/obdscan/internal/protocol"
)

// Sample is one monitor iteration's decoded readings.
type Sample struct {
	Time     time.Time     `json:"time"`
	Readings []obd.Reading `json:"readings"`
}

// Monitor polls the given PIDs until the context is cancelled, invoking
// emit once per iteration. Each iteration issues one bounded request per
// PID and checks cancellation only between requests, so stopping never cuts
// a command mid-reply and the adapter is left with no unread partial data.
// The scanner stays Busy for the whole loop.
func (s *Scanner) Monitor(ctx context.Context, pids []byte, interval time.Duration, emit func(Sample)) error {
	eng, err := s.begin()
	if err != nil {
		return err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	if len(pids) == 0 {
		pids = obd.DiagnosticPIDs
	}
	if interval <= 0 {
		interval = time.Second
	}

	for {
		sample := Sample{Time: time.Now()}
		for _, pid := range pids {
			if ctx.Err() != nil {
				return nil
			}
			data, err := s.mode01(eng, pid)
			if err != nil {
				if errors.Is(err, protocol.ErrDisconnected) {
					opErr = err
					return err
				}
				continue
			}
			r, err := obd.DecodePID(pid, data)
			if err != nil {
				log.Printf("[monitor] PID %02X: %v", pid, err)
				continue
			}
			sample.Readings = append(sample.Readings, r)
		}
		if len(sample.Readings) > 0 {
			emit(sample)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
