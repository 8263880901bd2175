package adapter

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Transport is the byte channel under a Session. The real implementation is
// a go.bug.st/serial port; tests substitute a replay transport driven by
// canned fixture steps.
type Transport interface {
	Write(p []byte) (n int, err error)
	Read(p []byte) (n int, err error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Config is the explicit adapter configuration threaded through the session.
// It is mutated only by AT directives the protocol engine issues during
// initialization, never by ambient state.
type Config struct {
	Port      string        `yaml:"port" json:"port"`
	Baud      int           `yaml:"baud" json:"baud"`
	Timeout   time.Duration `yaml:"-" json:"-"`
	HeadersOn bool          `yaml:"headers_on" json:"headersOn"`
	Protocol  string        `yaml:"protocol" json:"protocol"` // ELM protocol digit, "" = auto
}

// ErrNotFound is returned when no plausible adapter port exists.
var ErrNotFound = errors.New("no ELM327 adapter found")

const (
	defaultBaud    = 38400
	defaultTimeout = 3 * time.Second
	pollInterval   = 20 * time.Millisecond
	promptChar     = '>'
)

// Session owns the serial channel to the ELM327. Exclusive access for the
// duration of each command is enforced one level up by the protocol engine;
// the session itself is a dumb line pipe.
type Session struct {
	t   Transport
	cfg Config
}

// Open opens the serial port and returns a live session. The port is closed
// again on any error path.
func Open(cfg Config) (*Session, error) {
	if cfg.Port == "" {
		ports, err := FindPorts()
		if err != nil || len(ports) == 0 {
			return nil, ErrNotFound
		}
		cfg.Port = ports[0]
		log.Printf("[adapter] auto-selected %s", cfg.Port)
	}
	if cfg.Baud == 0 {
		cfg.Baud = defaultBaud
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("adapter: open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("adapter: set timeout on %s: %w", cfg.Port, err)
	}

	log.Printf("[adapter] opened %s at %d baud", cfg.Port, cfg.Baud)
	// Clones need a moment after open before they accept commands.
	time.Sleep(200 * time.Millisecond)

	return &Session{t: port, cfg: cfg}, nil
}

// NewSession wraps an existing transport, used by the replay harness.
func NewSession(t Transport, cfg Config) *Session {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Session{t: t, cfg: cfg}
}

// Config returns the adapter configuration this session was opened with.
func (s *Session) Config() Config { return s.cfg }

// Timeout returns the default read window for one command.
func (s *Session) Timeout() time.Duration { return s.cfg.Timeout }

// WriteCommand sends one ASCII command terminated with CR. Stale buffered
// input from a previous command is dropped first so late bytes cannot
// corrupt the next response.
func (s *Session) WriteCommand(cmd string) error {
	if err := s.t.ResetInputBuffer(); err != nil {
		return fmt.Errorf("adapter: flush before %q: %w", cmd, err)
	}
	if _, err := s.t.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("adapter: write %q: %w", cmd, err)
	}
	return nil
}

// ReadUntilPrompt accumulates reply bytes until the '>' prompt or the
// timeout. It returns the cleaned lines, whether the prompt was seen, and
// any transport error. Partial lines present at timeout are returned as-is;
// the caller decides whether that is a failure.
func (s *Session) ReadUntilPrompt(timeout time.Duration) ([]string, bool, error) {
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)
	var raw []byte
	prompt := false

	for time.Now().Before(deadline) {
		n, err := s.t.Read(buf)
		if n > 0 {
			raw = append(raw, buf[:n]...)
			if idx := strings.IndexByte(string(raw), promptChar); idx >= 0 {
				prompt = true
				break
			}
		}
		if err != nil {
			return splitLines(raw), prompt, fmt.Errorf("adapter: read: %w", err)
		}
		if n == 0 {
			time.Sleep(pollInterval / 4)
		}
	}
	return splitLines(raw), prompt, nil
}

// Drain reads and discards pending input until silence, bounded by the
// given budget. Used after cancellation so no partial reply is left unread.
func (s *Session) Drain(budget time.Duration) {
	deadline := time.Now().Add(budget)
	buf := make([]byte, 256)
	total := 0
	for time.Now().Before(deadline) {
		n, err := s.t.Read(buf)
		if n == 0 || err != nil {
			break
		}
		total += n
	}
	if total > 0 {
		log.Printf("[adapter] drained %d stale bytes", total)
	}
}

// Close releases the serial handle. Safe to call more than once.
func (s *Session) Close() error {
	if s.t == nil {
		return nil
	}
	err := s.t.Close()
	s.t = nil
	return err
}

// splitLines normalizes a reply burst: the prompt is stripped, CR is folded
// to LF, echo remnants and blank lines are dropped.
func splitLines(raw []byte) []string {
	text := strings.Map(func(r rune) rune {
		if r == promptChar {
			return -1
		}
		if r == '\r' {
			return '\n'
		}
		return r
	}, string(raw))

	var out []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
