package ds402

// Stage is one gated transition of the enable sequence
type Stage int

// the three stages of EnablePowerStage, in the order they are run
const (
	StageShutdown Stage = iota
	StageSwitchOn
	StageEnableOperation
)

// stages is the enable sequence.  Order matters: a later control word must
// never be written before the drive confirmed the prior state.
var stages = [...]struct {
	stage   Stage
	ctrl    ControlWord
	bit     uint
	reached Phase
}{
	{StageShutdown, CtrlShutdown, BitReadyToSwitchOn, PhaseReadyToSwitchOn},
	{StageSwitchOn, CtrlSwitchOn, BitSwitchedOn, PhaseSwitchedOn},
	{StageEnableOperation, CtrlEnableOperation, BitOperationEnabled, PhaseOperationEnabled},
}

func (s Stage) String() string {
	switch s {
	case StageShutdown:
		return "Shutdown"
	case StageSwitchOn:
		return "SwitchOn"
	case StageEnableOperation:
		return "EnableOperation"
	default:
		return "Stage?"
	}
}

// Target is the status the stage waits for
func (s Stage) Target() string {
	switch s {
	case StageShutdown:
		return "ReadyToSwitchOn"
	case StageSwitchOn:
		return "SwitchedOn"
	case StageEnableOperation:
		return "OperationEnabled"
	default:
		return "?"
	}
}

// Phase is the logical lifecycle phase of a Drive
type Phase int

// lifecycle phases
const (
	PhaseIdle Phase = iota
	PhaseClaimed
	PhaseReadyToSwitchOn
	PhaseSwitchedOn
	PhaseOperationEnabled
	PhaseReleased
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseClaimed:
		return "Claimed"
	case PhaseReadyToSwitchOn:
		return "ReadyToSwitchOn"
	case PhaseSwitchedOn:
		return "SwitchedOn"
	case PhaseOperationEnabled:
		return "OperationEnabled"
	case PhaseReleased:
		return "Released"
	default:
		return "Phase?"
	}
}
