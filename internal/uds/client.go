package uds

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shaunagostinho/obdscan/internal/protocol"
)

// Commander is the slice of the command engine the UDS layer needs.
// *protocol.Engine satisfies it.
type Commander interface {
	Execute(cmd string) ([]protocol.Message, error)
	SetHeader(txID string) error
	HeadersOn() bool
}

// Client issues UDS services against one module at a time.
type Client struct {
	eng       Commander
	module    Module
	addressed bool
}

// NewClient wraps the engine. Address must be called (or is called lazily)
// before the first service request.
func NewClient(eng Commander) *Client {
	return &Client{eng: eng}
}

// Address points the adapter at a module's transmit id. Subsequent requests
// go to that module until Address is called again.
func (c *Client) Address(m Module) error {
	if err := c.eng.SetHeader(m.TxID); err != nil {
		return fmt.Errorf("uds: address %s: %w", m.Name, err)
	}
	c.module = m
	c.addressed = true
	return nil
}

// request sends a service request and returns the positive response payload
// with the echoed SID stripped.
func (c *Client) request(sid byte, data []byte) ([]byte, error) {
	if !c.addressed {
		if err := c.Address(StandardModules()[0]); err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%02X", sid)
	for _, d := range data {
		fmt.Fprintf(&b, "%02X", d)
	}

	msgs, err := c.eng.Execute(b.String())
	if err != nil {
		if errors.Is(err, protocol.ErrNoData) {
			// Silence after retries: the module ignored the service.
			return nil, fmt.Errorf("uds: %s: %w", ServiceName(sid), ErrUnsupported)
		}
		return nil, err
	}

	payload := c.pickReply(msgs)
	if len(payload) == 0 {
		return nil, fmt.Errorf("uds: %s: empty response", ServiceName(sid))
	}
	if neg, ok := parseNegative(payload); ok {
		return nil, neg
	}
	if payload[0] != sid+0x40 {
		return nil, fmt.Errorf("uds: %s: unexpected response SID 0x%02X", ServiceName(sid), payload[0])
	}
	return payload[1:], nil
}

// pickReply prefers the addressed module's receive id when headers identify
// the sender; otherwise the first message wins.
func (c *Client) pickReply(msgs []protocol.Message) []byte {
	if c.eng.HeadersOn() && c.module.RxID != "" {
		for _, m := range msgs {
			if strings.EqualFold(m.Header, c.module.RxID) {
				return m.Data
			}
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return msgs[0].Data
}

// DiagnosticSession enters a diagnostic session (service 0x10).
// 0x01 default, 0x03 extended.
func (c *Client) DiagnosticSession(session byte) error {
	resp, err := c.request(0x10, []byte{session})
	if err != nil {
		return err
	}
	if len(resp) >= 1 && resp[0] != session {
		return fmt.Errorf("uds: session echo mismatch: got 0x%02X, want 0x%02X", resp[0], session)
	}
	return nil
}

// TesterPresent keeps a non-default session alive (service 0x3E).
func (c *Client) TesterPresent() error {
	_, err := c.request(0x3E, []byte{0x00})
	return err
}

// ReadDID reads one data identifier (service 0x22). An ECU that does not
// implement the DID yields ErrUnsupported, either as NRC 0x31 or as silence.
func (c *Client) ReadDID(id uint16) ([]byte, error) {
	resp, err := c.request(0x22, []byte{byte(id >> 8), byte(id)})
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("uds: DID %04X: response too short", id)
	}
	echo := uint16(resp[0])<<8 | uint16(resp[1])
	if echo != id {
		return nil, fmt.Errorf("uds: DID echo mismatch: got %04X, want %04X", echo, id)
	}
	return resp[2:], nil
}

// DIDValue is one discovered identifier with its rendered value.
type DIDValue struct {
	ID    uint16 `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ModuleReport is the discovery result for one module.
type ModuleReport struct {
	Module Module     `json:"module"`
	Values []DIDValue `json:"values,omitempty"`
	// Locked lists DIDs behind security access.
	Locked []uint16 `json:"locked,omitempty"`
	// Err records a transport failure that aborted this module's sweep.
	Err string `json:"error,omitempty"`
}

// DiscoverModule sweeps the candidate DIDs on one module. Unsupported DIDs
// are skipped silently; a transport error stops the sweep and is recorded,
// leaving whatever was found so far in the report.
func (c *Client) DiscoverModule(m Module, candidates []DID) ModuleReport {
	report := ModuleReport{Module: m}

	if err := c.Address(m); err != nil {
		report.Err = err.Error()
		return report
	}
	if err := c.DiagnosticSession(0x03); err != nil {
		if isTransportErr(err) {
			report.Err = err.Error()
			return report
		}
		// Extended session refused: the default session still answers
		// identification DIDs on most ECUs.
		log.Printf("[uds] %s: extended session refused: %v", m.Name, err)
	}

	for _, d := range candidates {
		data, err := c.ReadDID(d.ID)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnsupported):
				continue
			case errors.Is(err, ErrSecurityDenied):
				report.Locked = append(report.Locked, d.ID)
				continue
			case isTransportErr(err):
				report.Err = err.Error()
				return report
			default:
				log.Printf("[uds] %s DID %04X: %v", m.Name, d.ID, err)
				continue
			}
		}
		report.Values = append(report.Values, DIDValue{
			ID:    d.ID,
			Name:  d.Name,
			Value: DecodeValue(d, data),
		})
	}
	return report
}

// Discover sweeps every module independently. One module's transport
// failure never cancels its siblings.
func (c *Client) Discover(modules []Module, candidates []DID) []ModuleReport {
	if len(modules) == 0 {
		modules = StandardModules()
	}
	if len(candidates) == 0 {
		candidates = StandardDIDs()
	}
	out := make([]ModuleReport, 0, len(modules))
	for _, m := range modules {
		out = append(out, c.DiscoverModule(m, candidates))
	}
	return out
}

func isTransportErr(err error) bool {
	return errors.Is(err, protocol.ErrDisconnected) || errors.Is(err, protocol.ErrTimeout)
}
