package ds402

import (
	"errors"
	"sync"

	"github.com/nasa-jpl/servojog/enip"
	"github.com/nasa-jpl/servojog/util"
)

// simulated status words
const (
	SimSwitchOnDisabled StatusWord = 0x50
	SimReadyToSwitchOn  StatusWord = 0x31
	SimSwitchedOn       StatusWord = 0x33
	SimOperationEnabled StatusWord = 0x37
)

var (
	errSimInjected = errors.New("sim: injected failure")

	// errNotClaimed is what a real drive answers to commands without exclusive access
	errNotClaimed = &enip.CIPError{Service: enip.SvcSetAttributeSingle, GeneralStatus: enip.StatusPrivilegeViolation}

	errJogNotEnabled = &enip.CIPError{Service: enip.SvcSetAttributeSingle, GeneralStatus: enip.StatusObjectStateConflict}
)

// SimWrite is one write attempt seen by a Simulator
type SimWrite struct {
	Addr     Address
	Register string
	Value    []byte
	Failed   bool
}

// Simulator is an in-memory DS-402 drive.  It satisfies Transport, and
// enip.AttributeHandler so it can be served on the network.
//
// Control words move the power state per DS-402.  A commanded state only
// becomes visible after Lag further status reads.
type Simulator struct {
	mu sync.Mutex

	regs    Registers
	attrs   map[Address][]byte
	status  StatusWord
	pending *StatusWord
	wait    int
	claimed bool
	jog     JogCommand

	lag          int
	requireClaim bool
	ignored      map[ControlWord]bool
	failWrites   map[Address]int
	failReads    int

	reads  int
	writes []SimWrite
}

// NewSimulator returns a drive in SwitchOnDisabled that gates control and
// jog writes on exclusive access
func NewSimulator(regs Registers) *Simulator {
	return &Simulator{
		regs:         regs,
		attrs:        map[Address][]byte{},
		status:       SimSwitchOnDisabled,
		requireClaim: true,
		ignored:      map[ControlWord]bool{},
		failWrites:   map[Address]int{},
	}
}

// SetLag sets the number of status reads that still show the old state after a control word
func (s *Simulator) SetLag(n int) {
	s.mu.Lock()
	s.lag = n
	s.mu.Unlock()
}

// RequireClaim switches exclusive access gating on or off
func (s *Simulator) RequireClaim(b bool) {
	s.mu.Lock()
	s.requireClaim = b
	s.mu.Unlock()
}

// Ignore makes the drive accept c without ever acting on it
func (s *Simulator) Ignore(c ControlWord) {
	s.mu.Lock()
	s.ignored[c] = true
	s.mu.Unlock()
}

// FailWrites makes the next n writes to a fail
func (s *Simulator) FailWrites(a Address, n int) {
	s.mu.Lock()
	s.failWrites[a] = n
	s.mu.Unlock()
}

// FailReads makes the next n status reads fail
func (s *Simulator) FailReads(n int) {
	s.mu.Lock()
	s.failReads = n
	s.mu.Unlock()
}

// SetStatus forces the status word, dropping any pending transition
func (s *Simulator) SetStatus(w StatusWord) {
	s.mu.Lock()
	s.status, s.pending = w, nil
	s.mu.Unlock()
}

// SetFault latches or clears a drive fault.  A faulted drive shows Fault and
// acts on no control word; clearing it leaves the drive in SwitchOnDisabled.
func (s *Simulator) SetFault(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.jog = JogStop
	if !on {
		s.status = SimSwitchOnDisabled
		return
	}
	s.status = StatusWord(util.SetBit(uint16(s.status)&^0x6F, BitFault, true))
}

// Status returns the status word a read would see now, without counting as a read
func (s *Simulator) Status() StatusWord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Claimed is true while exclusive access is held
func (s *Simulator) Claimed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed
}

// Jogging returns the active jog command, JogStop if the axis is still
func (s *Simulator) Jogging() JogCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jog
}

// Reads returns the number of status reads served, including failed ones
func (s *Simulator) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Writes returns a copy of the write log
func (s *Simulator) Writes() []SimWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimWrite(nil), s.writes...)
}

// WritesTo returns the logged writes to a
func (s *Simulator) WritesTo(a Address) []SimWrite {
	var out []SimWrite
	for _, w := range s.Writes() {
		if w.Addr == a {
			out = append(out, w)
		}
	}
	return out
}

// ControlWords returns the control words that were accepted, in order
func (s *Simulator) ControlWords() []ControlWord {
	var out []ControlWord
	for _, w := range s.WritesTo(s.regs.ControlWord) {
		if w.Failed {
			continue
		}
		v, err := DecodeUnsigned(w.Value, 2)
		if err == nil {
			out = append(out, ControlWord(v))
		}
	}
	return out
}

// Value returns the last value written to a, and whether there was one
func (s *Simulator) Value(a Address) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[a]
	return append([]byte(nil), v...), ok
}

// ReadAttribute serves status reads through the state machine and anything
// else from the attribute store
func (s *Simulator) ReadAttribute(a Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == s.regs.StatusWord {
		s.reads++
		if s.failReads > 0 {
			s.failReads--
			return nil, errSimInjected
		}
		if s.pending != nil {
			if s.wait <= 0 {
				s.status, s.pending = *s.pending, nil
			} else {
				s.wait--
			}
		}
		b, _ := Encode(int64(s.status), UINT)
		return b, nil
	}
	v, ok := s.attrs[a]
	if !ok {
		return nil, &enip.CIPError{Service: enip.SvcGetAttributeSingle, GeneralStatus: enip.StatusAttrNotSupported}
	}
	return append([]byte(nil), v...), nil
}

// WriteAttribute applies a write
func (s *Simulator) WriteAttribute(a Address, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := SimWrite{Addr: a, Register: s.regs.name(a), Value: append([]byte(nil), payload...)}
	err := s.apply(a, payload)
	rec.Failed = err != nil
	s.writes = append(s.writes, rec)
	return err
}

func (s *Simulator) apply(a Address, payload []byte) error {
	if n := s.failWrites[a]; n > 0 {
		s.failWrites[a] = n - 1
		return errSimInjected
	}
	switch a {
	case s.regs.StatusWord:
		return &enip.CIPError{Service: enip.SvcSetAttributeSingle, GeneralStatus: enip.StatusAttrNotSettable}
	case s.regs.ExclusiveAccess:
		v, err := DecodeUnsigned(payload, 2)
		if err != nil {
			return &enip.CIPError{Service: enip.SvcSetAttributeSingle, GeneralStatus: enip.StatusNotEnoughData}
		}
		s.claimed = v == 1
	case s.regs.ControlWord:
		v, err := DecodeUnsigned(payload, 2)
		if err != nil {
			return &enip.CIPError{Service: enip.SvcSetAttributeSingle, GeneralStatus: enip.StatusNotEnoughData}
		}
		if s.requireClaim && !s.claimed {
			return errNotClaimed
		}
		s.command(ControlWord(v))
	case s.regs.JogActivate:
		v, err := DecodeUnsigned(payload, 2)
		if err != nil {
			return &enip.CIPError{Service: enip.SvcSetAttributeSingle, GeneralStatus: enip.StatusNotEnoughData}
		}
		cmd := JogCommand(v)
		if cmd != JogStop {
			if s.requireClaim && !s.claimed {
				return errNotClaimed
			}
			if s.status != SimOperationEnabled || s.pending != nil {
				return errJogNotEnabled
			}
		}
		s.jog = cmd
	}
	s.attrs[a] = append([]byte(nil), payload...)
	return nil
}

// command applies a control word to the power state.  Any pending
// transition lands first.
func (s *Simulator) command(c ControlWord) {
	if s.pending != nil {
		s.status, s.pending = *s.pending, nil
	}
	if s.ignored[c] || s.status.Fault() {
		return
	}
	var next StatusWord
	switch c {
	case CtrlDisableVoltage:
		next = SimSwitchOnDisabled
	case CtrlShutdown:
		next = SimReadyToSwitchOn
	case CtrlSwitchOn:
		if s.status != SimReadyToSwitchOn && s.status != SimOperationEnabled {
			return
		}
		next = SimSwitchedOn
	case CtrlEnableOperation:
		if s.status != SimSwitchedOn {
			return
		}
		next = SimOperationEnabled
	default:
		return
	}
	if next != SimOperationEnabled {
		s.jog = JogStop
	}
	if s.lag <= 0 {
		s.status = next
		return
	}
	s.pending, s.wait = &next, s.lag
}

// GetAttributeSingle serves Get_Attribute_Single for enip.Server
func (s *Simulator) GetAttributeSingle(class, instance, attribute uint16) ([]byte, error) {
	return s.ReadAttribute(Address{class, instance, attribute})
}

// SetAttributeSingle serves Set_Attribute_Single for enip.Server
func (s *Simulator) SetAttributeSingle(class, instance, attribute uint16, data []byte) error {
	return s.WriteAttribute(Address{class, instance, attribute}, data)
}
