// Package scanner drives whole diagnostic sessions: connect, scan, monitor,
// clear. It owns the connection state machine; everything below it is
// stateless decoding or bounded request/response work.
package scanner

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/shaunagostinho/obdscan/internal/adapter"
	"github.com/shaunagostinho/obdscan/internal/obd"
	"github.com/shaunagostinho/obdscan/internal/protocol"
	"github.com/shaunagostinho/obdscan/internal/uds"
)

// State is the connection lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Busy
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	default:
		return "disconnected"
	}
}

var (
	// ErrNotReady rejects operations outside the Ready state.
	ErrNotReady = errors.New("scanner: not connected")
	// ErrBusy rejects a new operation while one is in flight.
	ErrBusy = errors.New("scanner: operation in progress")
)

// ConnectError carries the AT directive or probe that failed during
// bring-up.
type ConnectError struct {
	Directive string
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("scanner: connect failed at %s: %v", e.Directive, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// VehicleInfo is the identification block of a scan.
type VehicleInfo struct {
	VIN          string `json:"vin,omitempty"`
	Protocol     string `json:"protocol"`
	ProtocolName string `json:"protocolName"`
	AutoProtocol bool   `json:"autoProtocol"`
	ELMVersion   string `json:"elmVersion"`
	MILOn        bool   `json:"milOn"`
	DTCCount     int    `json:"dtcCount"`
}

// FreezeFrame is the stored snapshot for the DTC that set it.
type FreezeFrame struct {
	DTC      string        `json:"dtc"`
	Readings []obd.Reading `json:"readings"`
}

// ScanResult is the full report. Sections a transport failure cut off are
// named in Incomplete; whatever was read before the failure stays populated.
type ScanResult struct {
	Vehicle    VehicleInfo         `json:"vehicle"`
	DTCs       []obd.DTC           `json:"dtcs"`
	Readiness  *obd.ReadinessState `json:"readiness,omitempty"`
	Live       []obd.Reading       `json:"live,omitempty"`
	Freeze     *FreezeFrame        `json:"freezeFrame,omitempty"`
	UDS        []uds.ModuleReport  `json:"uds,omitempty"`
	Incomplete []string            `json:"incomplete,omitempty"`
}

// Scanner is the connection state machine. All methods are safe for
// concurrent callers; operations serialize on the Busy state, which is what
// keeps one command in flight on the bus.
type Scanner struct {
	mu    sync.Mutex
	state State
	eng   *protocol.Engine

	Manufacturer obd.Manufacturer
	Ignition     obd.Ignition
}

// New returns a disconnected scanner.
func New() *Scanner {
	return &Scanner{}
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State reports the current lifecycle position.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the serial port and brings the adapter up. Every failure
// path releases the port and lands back in Disconnected with the failing
// directive attached.
func (s *Scanner) Connect(cfg adapter.Config, policy protocol.Policy) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = Connecting
	s.mu.Unlock()

	sess, err := adapter.Open(cfg)
	if err != nil {
		s.setState(Disconnected)
		return &ConnectError{Directive: "open", Err: err}
	}
	return s.bringUp(sess, policy)
}

// ConnectTransport is Connect over a caller-supplied transport, used by the
// replay harness and by anything else that is not a serial port.
func (s *Scanner) ConnectTransport(t adapter.Transport, cfg adapter.Config, policy protocol.Policy) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = Connecting
	s.mu.Unlock()

	return s.bringUp(adapter.NewSession(t, cfg), policy)
}

func (s *Scanner) bringUp(sess *adapter.Session, policy protocol.Policy) error {
	eng := protocol.NewEngine(sess, policy)

	fail := func(directive string, err error) error {
		eng.Close()
		s.setState(Disconnected)
		return &ConnectError{Directive: directive, Err: err}
	}

	if err := eng.Initialize(); err != nil {
		return fail(initDirective(err), err)
	}
	// A plain mode 01 request forces the bus search in auto protocol mode;
	// without it ATDPN reports protocol 0.
	if _, err := eng.Execute("0100"); err != nil {
		return fail("0100", err)
	}
	if _, _, err := eng.ProbeProtocol(); err != nil {
		return fail("ATDPN", err)
	}

	log.Printf("[scanner] connected: %s, protocol %s (%s)",
		eng.ElmVersion, eng.Protocol, protocol.ProtocolName(eng.Protocol))

	s.mu.Lock()
	s.eng = eng
	s.state = Ready
	s.mu.Unlock()
	return nil
}

func initDirective(err error) string {
	var ce *protocol.CommandError
	if errors.As(err, &ce) {
		return ce.Command
	}
	return "init"
}

// Disconnect releases the adapter. Legal from any state, including mid
// operation: the in-flight command sees a transport error and unwinds.
func (s *Scanner) Disconnect() error {
	s.mu.Lock()
	eng := s.eng
	s.eng = nil
	s.state = Disconnected
	s.mu.Unlock()

	if eng == nil {
		return nil
	}
	return eng.Close()
}

// begin moves Ready to Busy and hands out the engine.
func (s *Scanner) begin() (*protocol.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Ready:
		s.state = Busy
		return s.eng, nil
	case Busy, Connecting:
		return nil, ErrBusy
	default:
		return nil, ErrNotReady
	}
}

// end returns to Ready, or tears down to Disconnected when the transport
// dropped underneath the operation.
func (s *Scanner) end(err error) {
	s.mu.Lock()
	eng := s.eng
	dropped := errors.Is(err, protocol.ErrDisconnected)
	if dropped {
		s.eng = nil
		s.state = Disconnected
	} else if s.state == Busy {
		s.state = Ready
	}
	s.mu.Unlock()

	if dropped && eng != nil {
		eng.Close()
	}
}

// VehicleInfo reads identification: active protocol, VIN, MIL state. VIN
// and MIL failures degrade to empty values; only a transport drop is fatal.
func (s *Scanner) VehicleInfo() (VehicleInfo, error) {
	eng, err := s.begin()
	if err != nil {
		return VehicleInfo{}, err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	info, err := s.vehicleInfo(eng)
	opErr = err
	return info, err
}

func (s *Scanner) vehicleInfo(eng *protocol.Engine) (VehicleInfo, error) {
	info := VehicleInfo{ELMVersion: eng.ElmVersion}

	code, auto, err := eng.ProbeProtocol()
	if err != nil {
		if errors.Is(err, protocol.ErrDisconnected) {
			return info, err
		}
		log.Printf("[scanner] protocol probe: %v", err)
	} else {
		info.Protocol = code
		info.ProtocolName = protocol.ProtocolName(code)
		info.AutoProtocol = auto
	}

	vin, err := s.readVIN(eng)
	if err != nil {
		if errors.Is(err, protocol.ErrDisconnected) {
			return info, err
		}
		log.Printf("[scanner] VIN: %v", err)
	}
	info.VIN = vin

	milOn, count, err := s.milStatus(eng)
	if err != nil {
		if errors.Is(err, protocol.ErrDisconnected) {
			return info, err
		}
		log.Printf("[scanner] MIL status: %v", err)
	}
	info.MILOn = milOn
	info.DTCCount = count
	return info, nil
}

var vinRe = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`) // I, O, Q excluded

// readVIN issues Mode 09 PID 02 and extracts the 17-character VIN. When
// several ECUs answer, the engine module (7E8) wins.
func (s *Scanner) readVIN(eng *protocol.Engine) (string, error) {
	msgs, err := eng.Execute("0902")
	if err != nil {
		return "", err
	}

	best := -1
	for i, m := range msgs {
		if len(m.Data) < 3 || m.Data[0] != 0x49 || m.Data[1] != 0x02 {
			continue
		}
		if best < 0 || strings.EqualFold(m.Header, "7E8") {
			best = i
		}
		if strings.EqualFold(m.Header, "7E8") {
			break
		}
	}
	if best < 0 {
		return "", fmt.Errorf("scanner: no 49 02 payload in VIN response")
	}

	// Payload after mode echo and record count byte is ASCII.
	var b strings.Builder
	for _, c := range msgs[best].Data[3:] {
		if c >= 0x20 && c < 0x7F {
			b.WriteByte(c)
		}
	}
	vin := strings.ToUpper(strings.TrimSpace(b.String()))
	if !vinRe.MatchString(vin) {
		return "", fmt.Errorf("scanner: implausible VIN %q", vin)
	}
	return vin, nil
}

func (s *Scanner) milStatus(eng *protocol.Engine) (bool, int, error) {
	data, err := s.mode01(eng, 0x01)
	if err != nil {
		return false, 0, err
	}
	if len(data) < 1 {
		return false, 0, fmt.Errorf("scanner: empty 0101 payload")
	}
	return data[0]&0x80 != 0, int(data[0] & 0x7F), nil
}

// mode01 issues 01<pid> and returns the payload after the 41 <pid> echo,
// preferring the engine ECU when more than one answers.
func (s *Scanner) mode01(eng *protocol.Engine, pid byte) ([]byte, error) {
	cmd := fmt.Sprintf("01%02X", pid)
	msgs, err := eng.Execute(cmd)
	if err != nil {
		return nil, err
	}
	best := -1
	for i, m := range msgs {
		if len(m.Data) < 2 || m.Data[0] != 0x41 || m.Data[1] != pid {
			continue
		}
		if best < 0 || strings.EqualFold(m.Header, "7E8") {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("scanner: no 41 %02X payload in response", pid)
	}
	return msgs[best].Data[2:], nil
}

// ReadDTCs reads stored, pending and permanent codes, deduplicated in that
// priority order. A mode the vehicle does not answer is skipped.
func (s *Scanner) ReadDTCs() ([]obd.DTC, error) {
	eng, err := s.begin()
	if err != nil {
		return nil, err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	dtcs, err := s.readDTCs(eng)
	opErr = err
	return dtcs, err
}

func (s *Scanner) readDTCs(eng *protocol.Engine) ([]obd.DTC, error) {
	modes := []struct {
		cmd    string
		status obd.Status
	}{
		{"03", obd.StatusStored},
		{"07", obd.StatusPending},
		{"0A", obd.StatusPermanent},
	}

	var out []obd.DTC
	seen := map[string]bool{}
	for _, m := range modes {
		msgs, err := eng.Execute(m.cmd)
		if err != nil {
			if errors.Is(err, protocol.ErrNoData) {
				continue // nothing reported in this mode
			}
			return out, err
		}
		for _, msg := range msgs {
			for _, d := range obd.ParseDTCPayload(msg.Data, m.status) {
				if seen[d.Code] {
					continue
				}
				seen[d.Code] = true
				if desc, ok := obd.Describe(d.Code, s.Manufacturer); ok {
					d.Description = desc
				}
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// ReadReadiness reads the monitor status block.
func (s *Scanner) ReadReadiness() (obd.ReadinessState, error) {
	eng, err := s.begin()
	if err != nil {
		return obd.ReadinessState{}, err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	st, err := s.readReadiness(eng)
	opErr = err
	return st, err
}

func (s *Scanner) readReadiness(eng *protocol.Engine) (obd.ReadinessState, error) {
	data, err := s.mode01(eng, 0x01)
	if err != nil {
		return obd.ReadinessState{}, err
	}
	return obd.DecodeReadiness(data, s.Ignition)
}

// ReadLiveData samples the given PIDs once. Unsupported PIDs are skipped,
// not errors; a nil list means the default diagnostic set.
func (s *Scanner) ReadLiveData(pids []byte) ([]obd.Reading, error) {
	eng, err := s.begin()
	if err != nil {
		return nil, err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	out, err := s.readLiveData(eng, pids)
	opErr = err
	return out, err
}

func (s *Scanner) readLiveData(eng *protocol.Engine, pids []byte) ([]obd.Reading, error) {
	if len(pids) == 0 {
		pids = obd.DiagnosticPIDs
	}
	var out []obd.Reading
	for _, pid := range pids {
		data, err := s.mode01(eng, pid)
		if err != nil {
			if errors.Is(err, protocol.ErrDisconnected) {
				return out, err
			}
			continue
		}
		r, err := obd.DecodePID(pid, data)
		if err != nil {
			log.Printf("[scanner] PID %02X: %v", pid, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ReadFreezeFrame reads the Mode 02 snapshot for frame 0: first the DTC
// that latched it, then the captured sensor set.
func (s *Scanner) ReadFreezeFrame() (*FreezeFrame, error) {
	eng, err := s.begin()
	if err != nil {
		return nil, err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	ff, err := s.readFreezeFrame(eng)
	opErr = err
	return ff, err
}

func (s *Scanner) readFreezeFrame(eng *protocol.Engine) (*FreezeFrame, error) {
	msgs, err := eng.Execute("020200")
	if err != nil {
		if errors.Is(err, protocol.ErrNoData) {
			return nil, nil // no frame stored
		}
		return nil, err
	}

	ff := &FreezeFrame{}
	for _, m := range msgs {
		// 42 02 <frame#> <hi> <lo>
		if len(m.Data) >= 5 && m.Data[0] == 0x42 && m.Data[1] == 0x02 {
			if m.Data[3] != 0 || m.Data[4] != 0 {
				ff.DTC = obd.DecodeDTC(m.Data[3], m.Data[4])
			}
			break
		}
	}
	if ff.DTC == "" {
		return nil, nil
	}

	for _, pid := range obd.FreezeFramePIDs {
		msgs, err := eng.Execute(fmt.Sprintf("02%02X00", pid))
		if err != nil {
			if errors.Is(err, protocol.ErrDisconnected) {
				return ff, err
			}
			continue
		}
		for _, m := range msgs {
			// 42 <pid> <frame#> <data...>
			if len(m.Data) < 3 || m.Data[0] != 0x42 || m.Data[1] != pid {
				continue
			}
			r, err := obd.DecodePID(pid, m.Data[3:])
			if err != nil {
				continue
			}
			ff.Readings = append(ff.Readings, r)
			break
		}
	}
	return ff, nil
}

// ClearCodes issues Mode 04. This resets readiness monitors as a side
// effect; callers are expected to confirm with the user first.
func (s *Scanner) ClearCodes() error {
	eng, err := s.begin()
	if err != nil {
		return err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	msgs, err := eng.Execute("04")
	if err != nil {
		opErr = err
		return err
	}
	for _, m := range msgs {
		if len(m.Data) >= 1 && m.Data[0] == 0x44 {
			return nil
		}
	}
	opErr = fmt.Errorf("scanner: clear not acknowledged")
	return opErr
}

// DiscoverModules runs the UDS identification sweep over the standard
// modules.
func (s *Scanner) DiscoverModules() ([]uds.ModuleReport, error) {
	eng, err := s.begin()
	if err != nil {
		return nil, err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	reports := uds.NewClient(eng).Discover(nil, nil)
	for _, r := range reports {
		if r.Err != "" && strings.Contains(r.Err, protocol.ErrDisconnected.Error()) {
			opErr = protocol.ErrDisconnected
			break
		}
	}
	return reports, opErr
}

// Scan runs the full report: identification, trouble codes, readiness,
// live data, freeze frame. A transport drop mid-scan keeps the sections
// already read and names the missing ones in Incomplete.
func (s *Scanner) Scan() (*ScanResult, error) {
	eng, err := s.begin()
	if err != nil {
		return nil, err
	}
	var opErr error
	defer func() { s.end(opErr) }()

	res := &ScanResult{}
	abort := func(section string, err error) (*ScanResult, error) {
		opErr = err
		res.Incomplete = append(res.Incomplete, section)
		return res, fmt.Errorf("scanner: %s: %w", section, err)
	}

	res.Vehicle, err = s.vehicleInfo(eng)
	if err != nil {
		return abort("vehicle_info", err)
	}

	res.DTCs, err = s.readDTCs(eng)
	if err != nil {
		return abort("dtcs", err)
	}

	readiness, err := s.readReadiness(eng)
	if err != nil {
		if errors.Is(err, protocol.ErrDisconnected) {
			return abort("readiness", err)
		}
		log.Printf("[scanner] readiness: %v", err)
	} else {
		res.Readiness = &readiness
	}

	res.Live, err = s.readLiveData(eng, nil)
	if err != nil {
		return abort("live_data", err)
	}

	res.Freeze, err = s.readFreezeFrame(eng)
	if err != nil {
		if errors.Is(err, protocol.ErrDisconnected) {
			return abort("freeze_frame", err)
		}
		log.Printf("[scanner] freeze frame: %v", err)
	}

	return res, nil
}
