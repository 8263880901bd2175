package adapter

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ReplayStep is one canned command/response exchange. Steps are consumed in
// request order; a mismatch between the issued command and the recorded one
// fails the replay. A non-empty Error injects a fault instead of a reply:
// "disconnect" makes the transport fail hard, "timeout" swallows the
// command so the reader sees silence.
type ReplayStep struct {
	Command string   `json:"command"`
	Lines   []string `json:"lines"`
	Error   string   `json:"error,omitempty"`
}

// ReplayTransport replays recorded adapter traffic. It satisfies Transport
// so the protocol engine and scanner run unmodified against fixtures.
type ReplayTransport struct {
	mu     sync.Mutex
	steps  []ReplayStep
	buf    []byte
	closed bool
	broken bool
}

// NewReplayTransport builds a transport that will serve the given steps.
func NewReplayTransport(steps []ReplayStep) *ReplayTransport {
	return &ReplayTransport{steps: append([]ReplayStep(nil), steps...)}
}

// Remaining reports how many steps have not been consumed yet.
func (r *ReplayTransport) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

func normalizeCommand(cmd string) string {
	return strings.ToUpper(strings.Join(strings.Fields(cmd), ""))
}

func (r *ReplayTransport) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken || r.closed {
		return 0, fmt.Errorf("replay: transport closed")
	}

	cmd := strings.Trim(string(p), "\r\n")
	if cmd == "" {
		return len(p), nil
	}
	if len(r.steps) == 0 {
		return 0, fmt.Errorf("replay: no steps left for command %q", cmd)
	}

	step := r.steps[0]
	r.steps = r.steps[1:]

	switch strings.ToLower(strings.TrimSpace(step.Error)) {
	case "disconnect", "disconnected":
		r.broken = true
		return len(p), nil
	case "timeout", "communication":
		// Swallow the command; the reader times out on silence.
		return len(p), nil
	}

	if want, got := normalizeCommand(step.Command), normalizeCommand(cmd); want != got {
		return 0, fmt.Errorf("replay: expected command %q, got %q", step.Command, cmd)
	}

	reply := strings.Join(step.Lines, "\r") + "\r>"
	r.buf = append(r.buf, []byte(reply)...)
	return len(p), nil
}

func (r *ReplayTransport) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken {
		return 0, fmt.Errorf("replay: device disconnected")
	}
	if r.closed {
		return 0, fmt.Errorf("replay: transport closed")
	}
	if len(r.buf) == 0 {
		return 0, nil
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *ReplayTransport) SetReadTimeout(time.Duration) error { return nil }

func (r *ReplayTransport) ResetInputBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
	return nil
}

func (r *ReplayTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
