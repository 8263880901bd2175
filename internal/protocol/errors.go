package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers test these with
// errors.Is; the wrapping CommandError carries the command and the last
// adapter token so any failure can be reproduced as a replay fixture.
var (
	// ErrNoData means the ECU had nothing to report for the request even
	// after the bounded retries.
	ErrNoData = errors.New("no data from ECU")

	// ErrTimeout means no terminal condition (prompt or sentinel) arrived
	// within the read window.
	ErrTimeout = errors.New("response timeout")

	// ErrMalformedResponse means ISO-TP reassembly rules were violated
	// (missing or out-of-order consecutive frame). Never retried: a retry
	// could splice stale frames into the payload.
	ErrMalformedResponse = errors.New("malformed multi-frame response")

	// ErrBus covers hard adapter/bus conditions (ERROR, CAN ERROR,
	// UNABLE TO CONNECT) that are not worth retrying at this level.
	ErrBus = errors.New("bus error")

	// ErrDisconnected means the transport dropped mid-operation.
	ErrDisconnected = errors.New("adapter disconnected")
)

// CommandError ties a protocol failure to the command that produced it and
// the last line or sentinel token observed before giving up.
type CommandError struct {
	Command  string
	LastLine string
	Err      error
}

func (e *CommandError) Error() string {
	if e.LastLine != "" {
		return fmt.Sprintf("%s: %v (last line: %q)", e.Command, e.Err, e.LastLine)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func cmdErr(command, lastLine string, err error) *CommandError {
	return &CommandError{Command: command, LastLine: lastLine, Err: err}
}
