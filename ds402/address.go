package ds402

import "fmt"

// Address identifies a single CIP attribute on the drive
type Address struct {
	Class     uint16 `koanf:"Class" yaml:"Class"`
	Instance  uint16 `koanf:"Instance" yaml:"Instance"`
	Attribute uint16 `koanf:"Attribute" yaml:"Attribute"`
}

func (a Address) String() string {
	return fmt.Sprintf("(%d, %d, %d)", a.Class, a.Instance, a.Attribute)
}

// Registers holds the addresses of every attribute the drive state machine touches
type Registers struct {
	// ExclusiveAccess is written 1 to claim command authority and 0 to release it
	ExclusiveAccess Address `koanf:"ExclusiveAccess" yaml:"ExclusiveAccess"`

	// ControlWord is the DS-402 control word
	ControlWord Address `koanf:"ControlWord" yaml:"ControlWord"`

	// StatusWord is the DS-402 status word
	StatusWord Address `koanf:"StatusWord" yaml:"StatusWord"`

	// OpMode is the DS-402 modes of operation
	OpMode Address `koanf:"OpMode" yaml:"OpMode"`

	// JogActivate takes a JogCommand bitmask
	JogActivate Address `koanf:"JogActivate" yaml:"JogActivate"`

	// JogVelocity is the jog velocity setpoint
	JogVelocity Address `koanf:"JogVelocity" yaml:"JogVelocity"`
}

// DefaultRegisters returns the register map of the drive this package was
// commissioned against
func DefaultRegisters() Registers {
	return Registers{
		ExclusiveAccess: Address{101, 1, 13},
		ControlWord:     Address{127, 1, 1},
		StatusWord:      Address{127, 1, 2},
		OpMode:          Address{127, 1, 3},
		JogActivate:     Address{127, 1, 9},
		JogVelocity:     Address{141, 1, 5},
	}
}

// name returns a short human name for a, used in logs
func (r Registers) name(a Address) string {
	switch a {
	case r.ExclusiveAccess:
		return "AccessExcl"
	case r.ControlWord:
		return "ControlWord"
	case r.StatusWord:
		return "StatusWord"
	case r.OpMode:
		return "OpMode"
	case r.JogActivate:
		return "JogActivate"
	case r.JogVelocity:
		return "JogVelocity"
	default:
		return a.String()
	}
}
