package ds402

import (
	"strings"
	"time"
)

// SetupPolicy decides what ClaimAndConfigure does when a setup write fails
type SetupPolicy int

const (
	// BestEffort attempts every setup write and reports the failures
	BestEffort SetupPolicy = iota

	// FailFast stops at the first failed setup write and releases the claim
	FailFast
)

func (p SetupPolicy) String() string {
	if p == FailFast {
		return "FailFast"
	}
	return "BestEffort"
}

// ParseSetupPolicy converts "failfast" / "besteffort" (case insensitive) to a policy
func ParseSetupPolicy(s string) (SetupPolicy, bool) {
	switch strings.ToLower(s) {
	case "failfast", "fail-fast", "fail_fast":
		return FailFast, true
	case "besteffort", "best-effort", "best_effort", "":
		return BestEffort, true
	default:
		return BestEffort, false
	}
}

// Config holds the register map and the timing of the drive state machine.
// Everything that bounds a wait lives here so tests can shrink it.
type Config struct {
	Registers Registers

	// StageTimeout bounds each status bit wait of EnablePowerStage
	StageTimeout time.Duration

	// PollInterval is the delay between status reads while waiting
	PollInterval time.Duration

	// JogAttempts is the maximum number of jog trigger writes
	JogAttempts int

	// JogRetryDelay is the delay between jog trigger attempts
	JogRetryDelay time.Duration

	// RunDuration is how long RunJog lets the axis spin
	RunDuration time.Duration

	// SettleDelay is the pause between stopping the jog and disabling the power stage
	SettleDelay time.Duration
}

// DefaultConfig returns the timing the sequence was commissioned with
func DefaultConfig() Config {
	return Config{
		Registers:     DefaultRegisters(),
		StageTimeout:  3 * time.Second,
		PollInterval:  100 * time.Millisecond,
		JogAttempts:   3,
		JogRetryDelay: 500 * time.Millisecond,
		RunDuration:   4 * time.Second,
		SettleDelay:   500 * time.Millisecond,
	}
}
