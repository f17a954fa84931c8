package ds402

import (
	"fmt"
	"strings"

	"github.com/nasa-jpl/servojog/util"
)

// StatusWord is the DS-402 status word (statusword, 0x6041 in the CiA dictionary)
type StatusWord uint16

// bit indices of the status word
const (
	BitReadyToSwitchOn  uint = 0
	BitSwitchedOn       uint = 1
	BitOperationEnabled uint = 2
	BitFault            uint = 3
	BitVoltageEnabled   uint = 4
	BitQuickStop        uint = 5
	BitSwitchOnDisabled uint = 6
	BitWarning          uint = 7
	BitRemote           uint = 9
	BitTargetReached    uint = 10
	BitInternalLimit    uint = 11
)

func (s StatusWord) ReadyToSwitchOn() bool  { return util.GetBit(uint16(s), BitReadyToSwitchOn) }
func (s StatusWord) SwitchedOn() bool       { return util.GetBit(uint16(s), BitSwitchedOn) }
func (s StatusWord) OperationEnabled() bool { return util.GetBit(uint16(s), BitOperationEnabled) }
func (s StatusWord) Fault() bool            { return util.GetBit(uint16(s), BitFault) }
func (s StatusWord) VoltageEnabled() bool   { return util.GetBit(uint16(s), BitVoltageEnabled) }
func (s StatusWord) QuickStop() bool        { return util.GetBit(uint16(s), BitQuickStop) }
func (s StatusWord) SwitchOnDisabled() bool { return util.GetBit(uint16(s), BitSwitchOnDisabled) }
func (s StatusWord) Warning() bool          { return util.GetBit(uint16(s), BitWarning) }
func (s StatusWord) Remote() bool           { return util.GetBit(uint16(s), BitRemote) }
func (s StatusWord) TargetReached() bool    { return util.GetBit(uint16(s), BitTargetReached) }
func (s StatusWord) InternalLimit() bool    { return util.GetBit(uint16(s), BitInternalLimit) }

func (s StatusWord) String() string {
	return fmt.Sprintf("%#04x", uint16(s))
}

// Bit returns the value of bit index i
func (s StatusWord) Bit(i uint) bool {
	return util.GetBit(uint16(s), i)
}

// Named returns the value of the bit with the given label, case insensitive.
// ok is false if no bit has that label.
func (s StatusWord) Named(label string) (value bool, ok bool) {
	for k, v := range s.All() {
		if strings.EqualFold(k, label) {
			return v, true
		}
	}
	return false, false
}

// All returns a k:v map of all defined bits in the status word
func (s StatusWord) All() map[string]bool {
	return map[string]bool{
		"ReadyToSwitchOn":  s.ReadyToSwitchOn(),
		"SwitchedOn":       s.SwitchedOn(),
		"OperationEnabled": s.OperationEnabled(),
		"Fault":            s.Fault(),
		"VoltageEnabled":   s.VoltageEnabled(),
		"QuickStop":        s.QuickStop(),
		"SwitchOnDisabled": s.SwitchOnDisabled(),
		"Warning":          s.Warning(),
		"Remote":           s.Remote(),
		"TargetReached":    s.TargetReached(),
		"InternalLimit":    s.InternalLimit(),
	}
}

// PowerState is the power stage state implied by a status word
type PowerState string

// the DS-402 power state machine states
const (
	StateNotReady            PowerState = "NotReadyToSwitchOn"
	StateSwitchOnDisabled    PowerState = "SwitchOnDisabled"
	StateReadyToSwitchOn     PowerState = "ReadyToSwitchOn"
	StateSwitchedOn          PowerState = "SwitchedOn"
	StateOperationEnabled    PowerState = "OperationEnabled"
	StateQuickStopActive     PowerState = "QuickStopActive"
	StateFaultReactionActive PowerState = "FaultReactionActive"
	StateFault               PowerState = "Fault"
	StateUnknown             PowerState = "Unknown"
)

// PowerState decodes the status word per the DS-402 state table
func (s StatusWord) PowerState() PowerState {
	w := uint16(s)
	switch {
	case w&0x4F == 0x00:
		return StateNotReady
	case w&0x4F == 0x40:
		return StateSwitchOnDisabled
	case w&0x6F == 0x21:
		return StateReadyToSwitchOn
	case w&0x6F == 0x23:
		return StateSwitchedOn
	case w&0x6F == 0x27:
		return StateOperationEnabled
	case w&0x6F == 0x07:
		return StateQuickStopActive
	case w&0x4F == 0x0F:
		return StateFaultReactionActive
	case w&0x4F == 0x08:
		return StateFault
	default:
		return StateUnknown
	}
}

// ControlWord is the DS-402 control word
type ControlWord uint16

// control words issued by this package
const (
	CtrlDisableVoltage  ControlWord = 0x00
	CtrlShutdown        ControlWord = 0x06
	CtrlSwitchOn        ControlWord = 0x07
	CtrlEnableOperation ControlWord = 0x0F
)

func (c ControlWord) String() string {
	switch c {
	case CtrlDisableVoltage:
		return "Disable"
	case CtrlShutdown:
		return "Shutdown"
	case CtrlSwitchOn:
		return "Switch On"
	case CtrlEnableOperation:
		return "Enable Operation"
	default:
		return "ControlWord"
	}
}

// JogCommand is the bitmask written to the jog activate register
type JogCommand uint16

// jog trigger bits; zero stops
const (
	JogStop     JogCommand = 0
	JogPositive JogCommand = 1 << 0
	JogNegative JogCommand = 1 << 1
	JogFast     JogCommand = 1 << 2
)
