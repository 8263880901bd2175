package protocol

import (
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/shaunagostinho/obdscan/internal/adapter"
)

// Policy bounds the bus-level retry behavior of Execute. These cover
// transient conditions only; whether to re-issue a whole scan is the
// caller's decision.
type Policy struct {
	// MaxRetries bounds retries on NO DATA and BUS INIT: ERROR, which
	// usually mean the ECU had nothing to say for that request.
	MaxRetries int
	// Timeout is the read window for one attempt.
	Timeout time.Duration
	// Settle is the pause between retries; the adapter needs no backoff
	// beyond its own settling time.
	Settle time.Duration
}

// DefaultPolicy matches what clone adapters tolerate on real cars.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, Timeout: 3 * time.Second, Settle: 150 * time.Millisecond}
}

// Engine is the command/response layer over one adapter session. It holds
// exclusive use of the session for the duration of each Execute, which is
// what enforces the one-in-flight-command bus constraint.
type Engine struct {
	sess      *adapter.Session
	policy    Policy
	headersOn bool

	ElmVersion string
	Protocol   string // ELM protocol digit reported by ATDPN
	AutoProto  bool   // protocol was chosen by the adapter's auto search
}

// NewEngine wraps a session. The engine owns the session until Close.
func NewEngine(sess *adapter.Session, policy Policy) *Engine {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy().Timeout
	}
	return &Engine{sess: sess, policy: policy, headersOn: sess.Config().HeadersOn}
}

// HeadersOn reports whether replies carry arbitration-id prefixes.
func (e *Engine) HeadersOn() bool { return e.headersOn }

// Session exposes the underlying session for lifecycle management only.
func (e *Engine) Session() *adapter.Session { return e.sess }

// Close drains any unread reply and releases the serial handle.
func (e *Engine) Close() error {
	if e.sess == nil {
		return nil
	}
	e.sess.Drain(250 * time.Millisecond)
	err := e.sess.Close()
	e.sess = nil
	return err
}

// Execute sends a hex request and returns the reassembled response
// payload(s), applying the bounded retry policy for transient bus
// conditions. Multi-ECU replies yield one Message per arbitration id.
func (e *Engine) Execute(cmd string) ([]Message, error) {
	var lastToken string
	timeouts := 0

	for attempt := 0; ; attempt++ {
		lines, prompt, err := e.exchange(cmd, e.policy.Timeout)
		if err != nil {
			return nil, cmdErr(cmd, lastLine(lines), ErrDisconnected)
		}

		if len(lines) == 0 && !prompt {
			// Zero bytes inside the window: a harder transient. One more
			// try, then escalate naming the failing command.
			timeouts++
			if timeouts > 1 {
				return nil, cmdErr(cmd, lastToken, ErrTimeout)
			}
			log.Printf("[engine] %s: silent timeout, retrying once", cmd)
			continue
		}

		raws := ParseLines(lines, e.headersOn)

		if tok, ok := findSentinel(raws); ok {
			lastToken = tok
			switch tok {
			case "NO DATA", "BUS INIT: ERROR":
				if attempt < e.policy.MaxRetries {
					if e.policy.Settle > 0 {
						time.Sleep(e.policy.Settle)
					}
					continue
				}
				return nil, cmdErr(cmd, tok, ErrNoData)
			default:
				return nil, cmdErr(cmd, tok, ErrBus)
			}
		}

		msgs, err := Reassemble(raws)
		if err != nil {
			// Never retried: re-reading could splice stale frames.
			return nil, cmdErr(cmd, lastLine(lines), err)
		}
		if len(msgs) == 0 {
			if attempt < e.policy.MaxRetries {
				if e.policy.Settle > 0 {
					time.Sleep(e.policy.Settle)
				}
				continue
			}
			return nil, cmdErr(cmd, lastLine(lines), ErrNoData)
		}
		return msgs, nil
	}
}

// ExecuteAT issues an AT directive and returns the raw reply lines with any
// command echo stripped. AT replies are never reassembled.
func (e *Engine) ExecuteAT(cmd string) ([]string, error) {
	lines, prompt, err := e.exchange(cmd, e.policy.Timeout)
	if err != nil {
		return nil, cmdErr(cmd, lastLine(lines), ErrDisconnected)
	}
	if len(lines) == 0 && !prompt {
		return nil, cmdErr(cmd, "", ErrTimeout)
	}

	norm := strings.ToUpper(strings.Join(strings.Fields(cmd), ""))
	out := lines[:0:0]
	for _, ln := range lines {
		if strings.ToUpper(strings.Join(strings.Fields(ln), "")) == norm {
			continue // echo before ATE0 took effect
		}
		out = append(out, ln)
	}
	return out, nil
}

func (e *Engine) exchange(cmd string, timeout time.Duration) ([]string, bool, error) {
	if err := e.sess.WriteCommand(cmd); err != nil {
		return nil, false, err
	}
	return e.sess.ReadUntilPrompt(timeout)
}

var versionRe = regexp.MustCompile(`(?i)(ELM327\s*v?\s*[\w.]+)`)

// Initialize runs the standard AT bring-up: reset, echo and linefeeds off,
// spaces to match the headers mode, adaptive timing, protocol select. The
// adapter's configuration changes only through these explicit directives.
func (e *Engine) Initialize() error {
	cfg := e.sess.Config()

	lines, err := e.ExecuteAT("ATZ")
	if err != nil {
		return err
	}
	e.ElmVersion = "unknown"
	for _, ln := range lines {
		if m := versionRe.FindString(ln); m != "" {
			e.ElmVersion = strings.TrimSpace(m)
			break
		}
	}
	// Reset needs time before the next directive lands.
	time.Sleep(300 * time.Millisecond)

	steps := []string{"ATE0", "ATL0"}
	if cfg.HeadersOn {
		// Spaces on so the tokenizer can split header from payload.
		steps = append(steps, "ATS1", "ATH1")
	} else {
		steps = append(steps, "ATS0", "ATH0")
	}
	steps = append(steps, "ATAT1")
	if cfg.Protocol != "" {
		steps = append(steps, "ATSP"+cfg.Protocol)
	} else {
		steps = append(steps, "ATSP0")
	}

	for _, at := range steps {
		if _, err := e.ExecuteAT(at); err != nil {
			return err
		}
	}

	// Long-message support; harmless if the clone doesn't know it.
	if _, err := e.ExecuteAT("ATAL"); err != nil {
		log.Printf("[engine] ATAL not accepted: %v", err)
	}
	return nil
}

var protoDigitRe = regexp.MustCompile(`[0-9A-F]`)

// ProbeProtocol asks the adapter which protocol is active (ATDPN). A reply
// like "A6" means auto-selected protocol 6.
func (e *Engine) ProbeProtocol() (string, bool, error) {
	lines, err := e.ExecuteAT("ATDPN")
	if err != nil {
		return "", false, err
	}
	joined := strings.ToUpper(strings.TrimSpace(strings.Join(lines, " ")))
	if joined == "" {
		return "", false, cmdErr("ATDPN", "", ErrNoData)
	}
	auto := strings.HasPrefix(joined, "A")
	code := protoDigitRe.FindString(strings.TrimPrefix(joined, "A"))
	if code == "" {
		return "", false, cmdErr("ATDPN", joined, ErrBus)
	}
	e.Protocol = code
	e.AutoProto = auto
	return code, auto, nil
}

// SetHeader points subsequent requests at a specific arbitration id.
func (e *Engine) SetHeader(txID string) error {
	_, err := e.ExecuteAT("ATSH" + strings.ToUpper(txID))
	return err
}

// ProtocolName maps an ELM protocol digit to its bus name.
func ProtocolName(code string) string {
	names := map[string]string{
		"1": "SAE J1850 PWM",
		"2": "SAE J1850 VPW",
		"3": "ISO 9141-2",
		"4": "ISO 14230-4 KWP (5 baud init)",
		"5": "ISO 14230-4 KWP (fast init)",
		"6": "ISO 15765-4 CAN (11 bit, 500 kbaud)",
		"7": "ISO 15765-4 CAN (29 bit, 500 kbaud)",
		"8": "ISO 15765-4 CAN (11 bit, 250 kbaud)",
		"9": "ISO 15765-4 CAN (29 bit, 250 kbaud)",
		"A": "SAE J1939 CAN",
	}
	if n, ok := names[code]; ok {
		return n
	}
	return "Unknown"
}

func findSentinel(lines []RawLine) (string, bool) {
	for _, ln := range lines {
		if ln.Kind == LineSentinel {
			return ln.Sentinel, true
		}
	}
	return "", false
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
