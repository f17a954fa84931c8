package ds402

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Session is the ownership token of a claimed drive.  It is obtained from
// ClaimAndConfigure and consumed by DisableAndRelease; every command in
// between goes through it.
type Session struct {
	id  uuid.UUID
	d   *Drive
	log log.FieldLogger

	// released is guarded by d.mu
	released bool

	// op serializes commands so their register writes never interleave
	op sync.Mutex
}

// SetupWrite is one write made by ClaimAndConfigure
type SetupWrite struct {
	Register string
	Value    int64
	Err      error
}

// SetupReport lists the writes ClaimAndConfigure made, in order
type SetupReport struct {
	Policy SetupPolicy
	Writes []SetupWrite
}

// Failures returns the writes that failed
func (r SetupReport) Failures() []SetupFailure {
	var out []SetupFailure
	for _, w := range r.Writes {
		if w.Err != nil {
			out = append(out, SetupFailure{Register: w.Register, Err: w.Err})
		}
	}
	return out
}

// OK is true if every write succeeded
func (r SetupReport) OK() bool {
	return len(r.Failures()) == 0
}

// StageResult is the outcome of one stage of EnablePowerStage
type StageResult struct {
	Stage       Stage
	ControlWord ControlWord
	OK          bool

	// Status is the last status word read, valid if HaveStatus
	Status     StatusWord
	HaveStatus bool

	Polls   int
	Elapsed time.Duration
	Err     error
}

// EnableReport holds the stages EnablePowerStage ran, in order
type EnableReport struct {
	Stages []StageResult
}

// OK is true if all three stages completed
func (r EnableReport) OK() bool {
	return len(r.Stages) == len(stages) && r.Stages[len(r.Stages)-1].OK
}

// ClaimAndConfigure claims exclusive access and writes the operating mode
// and jog velocity.
//
// With BestEffort every write is attempted, failures are only reported, and
// a session is always returned.  With FailFast the first failure stops the
// sequence, exclusive access is released best-effort, and a *SetupError is
// returned without a session.
func (d *Drive) ClaimAndConfigure(opMode int16, jogVelocity int32, policy SetupPolicy) (*Session, SetupReport, error) {
	report := SetupReport{Policy: policy}
	d.mu.Lock()
	if d.session != nil {
		d.mu.Unlock()
		return nil, report, ErrAlreadyClaimed
	}
	s := &Session{id: uuid.New(), d: d}
	s.log = d.log.WithField("session", s.id.String())
	d.session = s
	d.mu.Unlock()

	regs := d.cfg.Registers
	steps := []struct {
		addr Address
		v    int64
		enc  Encoding
	}{
		{regs.ExclusiveAccess, 1, UINT},
		{regs.OpMode, int64(opMode), INT},
		{regs.JogVelocity, int64(jogVelocity), DINT},
	}
	s.log.WithField("policy", policy).Info("claiming drive")
	for _, st := range steps {
		err := d.write(s.log, st.addr, st.v, st.enc)
		report.Writes = append(report.Writes, SetupWrite{Register: regs.name(st.addr), Value: st.v, Err: err})
		if err != nil && policy == FailFast {
			// the claim write may have landed even if its reply was lost
			if rerr := d.write(s.log, regs.ExclusiveAccess, 0, UINT); rerr != nil {
				s.log.WithError(rerr).Error("could not release exclusive access after failed setup")
			}
			d.mu.Lock()
			s.released = true
			d.session = nil
			d.mu.Unlock()
			return nil, report, &SetupError{Failures: report.Failures()}
		}
	}
	if f := report.Failures(); len(f) > 0 {
		s.log.Warnf("setup completed with %d failed writes", len(f))
	}
	d.setPhase(PhaseClaimed)
	return s, report, nil
}

// ID returns the session's unique identifier
func (s *Session) ID() string {
	return s.id.String()
}

func (s *Session) check() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.released {
		return ErrSessionReleased
	}
	return nil
}

// Phase is the drive's phase, or Released if the session has been consumed
func (s *Session) Phase() Phase {
	if s.check() != nil {
		return PhaseReleased
	}
	return s.d.Phase()
}

// ReadStatus reads the status word
func (s *Session) ReadStatus() (StatusWord, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.d.poller(s.log).ReadStatus()
}

// EnablePowerStage walks the drive from SwitchOnDisabled to
// OperationEnabled.  It is refused with ErrAlreadyEnabled once the drive
// is there.  Each control word is only written once the status word
// confirmed the previous state; the first stage to fail or time out ends
// the sequence.  timeout bounds each stage separately.
func (s *Session) EnablePowerStage(timeout time.Duration) (EnableReport, error) {
	var report EnableReport
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.check(); err != nil {
		return report, err
	}
	d := s.d
	if d.Phase() == PhaseOperationEnabled {
		// starting over writes Shutdown, which would drop power under a jog
		return report, ErrAlreadyEnabled
	}
	d.setPhase(PhaseClaimed)
	for _, st := range stages {
		l := s.log.WithField("stage", st.stage.String())
		res := StageResult{Stage: st.stage, ControlWord: st.ctrl}
		d.report("Sending " + st.ctrl.String())
		l.Infof("Sending %s (%#04x)...", st.ctrl, uint16(st.ctrl))
		if err := d.write(l, d.cfg.Registers.ControlWord, int64(st.ctrl), UINT); err != nil {
			res.Err = err
			report.Stages = append(report.Stages, res)
			l.WithError(err).Error("control word write failed")
			return report, err
		}
		w := d.poller(l).Wait(st.bit, true, timeout)
		res.Polls, res.Elapsed = w.Polls, w.Elapsed
		res.Status, res.HaveStatus = w.Last, w.HaveLast
		if !w.Matched {
			if st.stage == StageEnableOperation && !res.HaveStatus {
				if status, err := d.poller(l).ReadStatus(); err == nil {
					res.Status, res.HaveStatus = status, true
				}
			}
			terr := &StageTimeoutError{Stage: st.stage, Status: res.Status, HaveStatus: res.HaveStatus}
			res.Err = terr
			report.Stages = append(report.Stages, res)
			if res.HaveStatus {
				l = l.WithField("status", res.Status)
			}
			l.Errorf("Timeout: Failed to reach %s", st.stage.Target())
			return report, terr
		}
		res.OK = true
		report.Stages = append(report.Stages, res)
		d.setPhase(st.reached)
		l.WithField("status", res.Status).Infof("Drive is %s", st.stage.Target())
	}
	return report, nil
}

// DisableAndRelease stops any jog, disables the power stage, and releases
// exclusive access.  All three writes are attempted whatever fails, and the
// session is consumed either way.
func (s *Session) DisableAndRelease() error {
	s.op.Lock()
	defer s.op.Unlock()
	d := s.d
	d.mu.Lock()
	if s.released {
		d.mu.Unlock()
		return ErrSessionReleased
	}
	s.released = true
	d.mu.Unlock()

	regs := d.cfg.Registers
	d.report("Releasing drive")
	s.log.Info("Disabling drive and releasing access")
	err := multierr.Combine(
		d.write(s.log, regs.JogActivate, int64(JogStop), UINT),
		d.write(s.log, regs.ControlWord, int64(CtrlDisableVoltage), UINT),
		d.write(s.log, regs.ExclusiveAccess, 0, UINT),
	)
	if err != nil {
		s.log.WithError(err).Error("release incomplete")
	}

	d.mu.Lock()
	if d.session == s {
		d.session = nil
	}
	d.phase = PhaseReleased
	d.mu.Unlock()
	return err
}
