package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/shaunagostinho/obdscan/internal/adapter"
)

func testPolicy() Policy {
	return Policy{MaxRetries: 2, Timeout: 100 * time.Millisecond, Settle: 0}
}

func newReplayEngine(t *testing.T, steps []adapter.ReplayStep, policy Policy) (*Engine, *adapter.ReplayTransport) {
	t.Helper()
	rt := adapter.NewReplayTransport(steps)
	sess := adapter.NewSession(rt, adapter.Config{HeadersOn: true, Timeout: policy.Timeout})
	return NewEngine(sess, policy), rt
}

func TestExecuteSingleFrame(t *testing.T) {
	eng, rt := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "0101", Lines: []string{"7E8 06 41 01 00 07 E5 00"}},
	}, testPolicy())

	msgs, err := eng.Execute("0101")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Data[0] != 0x41 || msgs[0].Data[1] != 0x01 {
		t.Errorf("payload = % X, want 41 01 prefix", msgs[0].Data)
	}
	if rt.Remaining() != 0 {
		t.Errorf("%d steps left unconsumed", rt.Remaining())
	}
}

func TestExecuteNoDataRetriedThenSucceeds(t *testing.T) {
	eng, _ := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "010C", Lines: []string{"NO DATA"}},
		{Command: "010C", Lines: []string{"NO DATA"}},
		{Command: "010C", Lines: []string{"7E8 04 41 0C 1A F8"}},
	}, testPolicy())

	msgs, err := eng.Execute("010C")
	if err != nil {
		t.Fatalf("Execute failed after retries: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Data[2] != 0x1A {
		t.Errorf("unexpected reply %+v", msgs)
	}
}

func TestExecuteNoDataExhaustsRetries(t *testing.T) {
	eng, rt := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "0101", Lines: []string{"NO DATA"}},
		{Command: "0101", Lines: []string{"NO DATA"}},
		{Command: "0101", Lines: []string{"NO DATA"}},
	}, testPolicy())

	_, err := eng.Execute("0101")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("err %T does not carry command context", err)
	}
	if ce.Command != "0101" {
		t.Errorf("Command = %q, want 0101", ce.Command)
	}
	if ce.LastLine != "NO DATA" {
		t.Errorf("LastLine = %q, want NO DATA", ce.LastLine)
	}
	if rt.Remaining() != 0 {
		t.Errorf("%d steps left, want all consumed by the retry bound", rt.Remaining())
	}
}

func TestExecuteBusInitErrorRetried(t *testing.T) {
	eng, _ := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "0100", Lines: []string{"BUS INIT: ...ERROR"}},
		{Command: "0100", Lines: []string{"BUS INIT: OK", "7E8 06 41 00 BE 3F A8 13"}},
	}, testPolicy())

	msgs, err := eng.Execute("0100")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestExecuteHardSentinelNotRetried(t *testing.T) {
	eng, rt := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "0101", Lines: []string{"STOPPED"}},
		{Command: "0101", Lines: []string{"7E8 06 41 01 00 07 E5 00"}},
	}, testPolicy())

	_, err := eng.Execute("0101")
	if !errors.Is(err, ErrBus) {
		t.Fatalf("err = %v, want ErrBus", err)
	}
	if rt.Remaining() != 1 {
		t.Errorf("Remaining = %d, want 1 (no retry on STOPPED)", rt.Remaining())
	}
}

func TestExecuteSilentTimeoutRetriedOnce(t *testing.T) {
	policy := Policy{MaxRetries: 2, Timeout: 40 * time.Millisecond, Settle: 0}
	eng, rt := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "0101", Error: "timeout"},
		{Command: "0101", Error: "timeout"},
		{Command: "0101", Lines: []string{"7E8 06 41 01 00 07 E5 00"}},
	}, policy)

	_, err := eng.Execute("0101")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout after one retry", err)
	}
	if rt.Remaining() != 1 {
		t.Errorf("Remaining = %d, want 1 (exactly one retry on silence)", rt.Remaining())
	}
}

func TestExecuteMalformedNotRetried(t *testing.T) {
	eng, rt := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "0902", Lines: []string{
			"7E8 10 14 49 02 01 57 50 30",
			"7E8 22 53 33 39 32 31 32 33", // seq jumps 1 -> 2
		}},
		{Command: "0902", Lines: []string{"NO DATA"}},
	}, testPolicy())

	_, err := eng.Execute("0902")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
	if rt.Remaining() != 1 {
		t.Errorf("Remaining = %d, want 1 (malformed reply must not be retried)", rt.Remaining())
	}
}

func TestExecuteDisconnect(t *testing.T) {
	eng, _ := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "0101", Error: "disconnect"},
	}, testPolicy())

	_, err := eng.Execute("0101")
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
}

func TestInitializeSequence(t *testing.T) {
	steps := []adapter.ReplayStep{
		{Command: "ATZ", Lines: []string{"ELM327 v1.5"}},
		{Command: "ATE0", Lines: []string{"OK"}},
		{Command: "ATL0", Lines: []string{"OK"}},
		{Command: "ATS1", Lines: []string{"OK"}},
		{Command: "ATH1", Lines: []string{"OK"}},
		{Command: "ATAT1", Lines: []string{"OK"}},
		{Command: "ATSP0", Lines: []string{"OK"}},
		{Command: "ATAL", Lines: []string{"OK"}},
	}
	eng, rt := newReplayEngine(t, steps, testPolicy())

	if err := eng.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if eng.ElmVersion != "ELM327 v1.5" {
		t.Errorf("ElmVersion = %q, want ELM327 v1.5", eng.ElmVersion)
	}
	if rt.Remaining() != 0 {
		t.Errorf("%d init steps left unconsumed", rt.Remaining())
	}
}

func TestProbeProtocolAuto(t *testing.T) {
	eng, _ := newReplayEngine(t, []adapter.ReplayStep{
		{Command: "ATDPN", Lines: []string{"A6"}},
	}, testPolicy())

	code, auto, err := eng.ProbeProtocol()
	if err != nil {
		t.Fatalf("ProbeProtocol failed: %v", err)
	}
	if code != "6" || !auto {
		t.Errorf("got code %q auto %v, want 6 true", code, auto)
	}
	if ProtocolName(code) != "ISO 15765-4 CAN (11 bit, 500 kbaud)" {
		t.Errorf("ProtocolName(%q) = %q", code, ProtocolName(code))
	}
}
