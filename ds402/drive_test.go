package ds402

import (
	"errors"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/multierr"
)

func TestClaimAndConfigure(t *testing.T) {
	Convey("Given an idle simulated drive", t, func() {
		sim, d, _ := newSimDrive()
		regs := d.Config().Registers

		Convey("a clean claim writes access, op mode and velocity", func() {
			s, report, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
			So(err, ShouldBeNil)
			So(s, ShouldNotBeNil)
			So(report.OK(), ShouldBeTrue)
			So(len(report.Writes), ShouldEqual, 3)
			So(sim.Claimed(), ShouldBeTrue)
			op, _ := sim.Value(regs.OpMode)
			So(op, ShouldResemble, []byte{0xFF, 0xFF})
			vel, _ := sim.Value(regs.JogVelocity)
			So(vel, ShouldResemble, []byte{0xE8, 0x03, 0x00, 0x00})
			So(d.Phase(), ShouldEqual, PhaseClaimed)
			So(s.Phase(), ShouldEqual, PhaseClaimed)
		})

		Convey("BestEffort keeps going past a failed write", func() {
			sim.FailWrites(regs.OpMode, 1)
			s, report, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
			So(err, ShouldBeNil)
			So(s, ShouldNotBeNil)
			So(report.OK(), ShouldBeFalse)
			f := report.Failures()
			So(len(f), ShouldEqual, 1)
			So(f[0].Register, ShouldEqual, "OpMode")
			So(len(sim.WritesTo(regs.JogVelocity)), ShouldEqual, 1)
			So(d.Phase(), ShouldEqual, PhaseClaimed)
		})

		Convey("FailFast stops, releases the claim, and returns no session", func() {
			sim.FailWrites(regs.OpMode, 1)
			s, report, err := d.ClaimAndConfigure(-1, 1000, FailFast)
			So(s, ShouldBeNil)
			var serr *SetupError
			So(errors.As(err, &serr), ShouldBeTrue)
			So(len(serr.Failures), ShouldEqual, 1)
			var terr *TransportError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.Register, ShouldEqual, "OpMode")
			So(len(report.Writes), ShouldEqual, 2)
			So(len(sim.WritesTo(regs.JogVelocity)), ShouldEqual, 0)
			So(sim.Claimed(), ShouldBeFalse)
			So(d.Phase(), ShouldEqual, PhaseIdle)

			Convey("and the drive can be claimed again", func() {
				s, _, err := d.ClaimAndConfigure(-1, 1000, FailFast)
				So(err, ShouldBeNil)
				So(s, ShouldNotBeNil)
			})
		})

		Convey("a second claim is refused while a session is held", func() {
			s, _, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
			So(err, ShouldBeNil)
			_, _, err = d.ClaimAndConfigure(-1, 1000, BestEffort)
			So(err, ShouldEqual, ErrAlreadyClaimed)

			Convey("but allowed after release", func() {
				So(s.DisableAndRelease(), ShouldBeNil)
				s2, _, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
				So(err, ShouldBeNil)
				So(s2.ID(), ShouldNotEqual, s.ID())
			})
		})
	})
}

func TestEnablePowerStage(t *testing.T) {
	Convey("Given a claimed drive", t, func() {
		sim, d, _ := newSimDrive()
		regs := d.Config().Registers
		ol := &opLog{Transport: sim, regs: regs}
		d.t = ol
		s, _, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
		So(err, ShouldBeNil)
		ol.ops = nil

		Convey("control words are gated on the status word, in order", func() {
			sim.SetLag(2)
			report, err := s.EnablePowerStage(3 * time.Second)
			So(err, ShouldBeNil)
			So(report.OK(), ShouldBeTrue)
			So(sim.ControlWords(), ShouldResemble, []ControlWord{CtrlShutdown, CtrlSwitchOn, CtrlEnableOperation})
			So(ol.ops, ShouldResemble, []string{
				"W ControlWord=6", "R", "R", "R",
				"W ControlWord=7", "R", "R", "R",
				"W ControlWord=15", "R", "R", "R",
			})
			for _, st := range report.Stages {
				So(st.OK, ShouldBeTrue)
				So(st.Polls, ShouldEqual, 3)
			}
			So(report.Stages[2].Status, ShouldEqual, SimOperationEnabled)
			So(d.Phase(), ShouldEqual, PhaseOperationEnabled)
		})

		Convey("a timeout on the last stage reports the final status word", func() {
			sim.Ignore(CtrlEnableOperation)
			report, err := s.EnablePowerStage(300 * time.Millisecond)
			var terr *StageTimeoutError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.Stage, ShouldEqual, StageEnableOperation)
			So(terr.HaveStatus, ShouldBeTrue)
			So(terr.Status, ShouldEqual, SimSwitchedOn)
			So(len(report.Stages), ShouldEqual, 3)
			So(report.Stages[2].Polls, ShouldEqual, 3)
			So(report.OK(), ShouldBeFalse)
			So(sim.ControlWords(), ShouldResemble, []ControlWord{CtrlShutdown, CtrlSwitchOn, CtrlEnableOperation})
			So(d.Phase(), ShouldEqual, PhaseSwitchedOn)
		})

		Convey("a stage timeout stops the sequence", func() {
			sim.Ignore(CtrlShutdown)
			report, err := s.EnablePowerStage(300 * time.Millisecond)
			var terr *StageTimeoutError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.Stage, ShouldEqual, StageShutdown)
			So(terr.Status, ShouldEqual, SimSwitchOnDisabled)
			So(len(report.Stages), ShouldEqual, 1)
			So(sim.ControlWords(), ShouldResemble, []ControlWord{CtrlShutdown})
			So(d.Phase(), ShouldEqual, PhaseClaimed)
		})

		Convey("a second stage timeout leaves the phase at ReadyToSwitchOn", func() {
			sim.Ignore(CtrlSwitchOn)
			report, err := s.EnablePowerStage(300 * time.Millisecond)
			var terr *StageTimeoutError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.Stage, ShouldEqual, StageSwitchOn)
			So(len(report.Stages), ShouldEqual, 2)
			So(d.Phase(), ShouldEqual, PhaseReadyToSwitchOn)
			So(s.Phase(), ShouldEqual, PhaseReadyToSwitchOn)
		})

		Convey("an enabled drive refuses to run the sequence again", func() {
			_, err := s.EnablePowerStage(time.Second)
			So(err, ShouldBeNil)
			_, err = s.TriggerJog(JogPositive, 3)
			So(err, ShouldBeNil)
			ol.ops = nil
			report, err := s.EnablePowerStage(time.Second)
			So(err, ShouldEqual, ErrAlreadyEnabled)
			So(len(report.Stages), ShouldEqual, 0)
			So(ol.ops, ShouldBeEmpty)
			So(sim.Jogging(), ShouldEqual, JogPositive)
			So(d.Phase(), ShouldEqual, PhaseOperationEnabled)
		})

		Convey("the last stage makes one extra read if polling saw nothing", func() {
			sim.Ignore(CtrlEnableOperation)
			ol.onWrite = func(a Address, payload []byte) {
				if a == regs.ControlWord && payload[0] == byte(CtrlEnableOperation) {
					sim.FailReads(3)
				}
			}
			report, err := s.EnablePowerStage(300 * time.Millisecond)
			var terr *StageTimeoutError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.HaveStatus, ShouldBeTrue)
			So(terr.Status, ShouldEqual, SimSwitchedOn)
			So(report.Stages[2].Polls, ShouldEqual, 3)
		})

		Convey("a failed control word write aborts with a TransportError", func() {
			sim.FailWrites(regs.ControlWord, 1)
			_, err := s.EnablePowerStage(time.Second)
			var terr *TransportError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.Register, ShouldEqual, "ControlWord")
			So(sim.Reads(), ShouldEqual, 0)
		})
	})
}

func TestTriggerJog(t *testing.T) {
	Convey("Given a drive in OperationEnabled", t, func() {
		sim, d, clk := newSimDrive()
		regs := d.Config().Registers
		s, _, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
		So(err, ShouldBeNil)
		_, err = s.EnablePowerStage(time.Second)
		So(err, ShouldBeNil)
		start := clk.Now()

		Convey("the jog lands on the first try", func() {
			res, err := s.TriggerJog(JogPositive|JogFast, 3)
			So(err, ShouldBeNil)
			So(res.OK, ShouldBeTrue)
			So(res.Attempts, ShouldEqual, 1)
			So(sim.Jogging(), ShouldEqual, JogPositive|JogFast)
			So(clk.Now(), ShouldEqual, start)
		})

		Convey("two failures then success takes exactly three writes", func() {
			sim.FailWrites(regs.JogActivate, 2)
			res, err := s.TriggerJog(JogPositive|JogFast, 3)
			So(err, ShouldBeNil)
			So(res.OK, ShouldBeTrue)
			So(res.Attempts, ShouldEqual, 3)
			So(len(sim.WritesTo(regs.JogActivate)), ShouldEqual, 3)
			So(clk.Now().Sub(start), ShouldEqual, time.Second)
		})

		Convey("a transport that always fails is tried exactly three times", func() {
			sim.FailWrites(regs.JogActivate, 100)
			var (
				res JogResult
				err error
			)
			So(func() { res, err = s.TriggerJog(JogPositive|JogFast, 3) }, ShouldNotPanic)
			So(res.OK, ShouldBeFalse)
			So(res.Attempts, ShouldEqual, 3)
			So(len(sim.WritesTo(regs.JogActivate)), ShouldEqual, 3)
			var jerr *JogError
			So(errors.As(err, &jerr), ShouldBeTrue)
			So(jerr.Attempts, ShouldEqual, 3)
			var terr *TransportError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(sim.Jogging(), ShouldEqual, JogStop)
		})

		Convey("a single attempt is not retried", func() {
			sim.FailWrites(regs.JogActivate, 100)
			res, err := s.TriggerJog(JogPositive, 1)
			So(err, ShouldNotBeNil)
			So(res.Attempts, ShouldEqual, 1)
			So(clk.Now(), ShouldEqual, start)
		})

		Convey("StopJog writes zero once and is never retried", func() {
			_, err := s.TriggerJog(JogPositive, 3)
			So(err, ShouldBeNil)
			So(s.StopJog(), ShouldBeNil)
			So(sim.Jogging(), ShouldEqual, JogStop)

			sim.FailWrites(regs.JogActivate, 1)
			before := len(sim.WritesTo(regs.JogActivate))
			So(s.StopJog(), ShouldNotBeNil)
			So(len(sim.WritesTo(regs.JogActivate)), ShouldEqual, before+1)
		})
	})

	Convey("Given a drive whose retry warnings are recorded", t, func() {
		sim := NewSimulator(DefaultRegisters())
		clk := newFakeClock()
		hook := &retryHook{clk: clk}
		l := log.New()
		l.SetOutput(io.Discard)
		l.AddHook(hook)
		d := NewDrive(sim, DefaultConfig(), WithClock(clk, clk.Sleep), WithLogger(l))
		s, _, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
		So(err, ShouldBeNil)
		_, err = s.EnablePowerStage(time.Second)
		So(err, ShouldBeNil)

		Convey("each failure is logged before the retry delay", func() {
			sim.FailWrites(d.Config().Registers.JogActivate, 2)
			n := len(clk.sleeps)
			res, err := s.TriggerJog(JogPositive, 3)
			So(err, ShouldBeNil)
			So(res.Attempts, ShouldEqual, 3)
			So(hook.at, ShouldResemble, []int{n, n + 1})
		})

		Convey("the final failure is not reported as a retry", func() {
			sim.FailWrites(d.Config().Registers.JogActivate, 100)
			_, err := s.TriggerJog(JogPositive, 3)
			So(err, ShouldNotBeNil)
			So(len(hook.at), ShouldEqual, 2)
		})
	})

	Convey("Given a drive that is only claimed", t, func() {
		sim, d, _ := newSimDrive()
		s, _, _ := d.ClaimAndConfigure(-1, 1000, BestEffort)

		Convey("a jog is refused without any write", func() {
			res, err := s.TriggerJog(JogPositive, 3)
			So(err, ShouldEqual, ErrNotEnabled)
			So(res.Attempts, ShouldEqual, 0)
			So(len(sim.WritesTo(d.Config().Registers.JogActivate)), ShouldEqual, 0)
		})
	})
}

func TestDisableAndRelease(t *testing.T) {
	Convey("Given an enabled drive", t, func() {
		sim, d, _ := newSimDrive()
		regs := d.Config().Registers
		s, _, _ := d.ClaimAndConfigure(-1, 1000, BestEffort)
		s.EnablePowerStage(time.Second)

		Convey("release disables and frees the drive", func() {
			So(s.DisableAndRelease(), ShouldBeNil)
			So(sim.Status(), ShouldEqual, SimSwitchOnDisabled)
			So(sim.Claimed(), ShouldBeFalse)
			So(d.Phase(), ShouldEqual, PhaseReleased)
			So(s.Phase(), ShouldEqual, PhaseReleased)
		})

		Convey("every write is attempted even when the first ones fail", func() {
			sim.FailWrites(regs.JogActivate, 1)
			sim.FailWrites(regs.ControlWord, 1)
			err := s.DisableAndRelease()
			So(err, ShouldNotBeNil)
			So(len(multierr.Errors(err)), ShouldEqual, 2)
			So(sim.Claimed(), ShouldBeFalse)
			So(d.Phase(), ShouldEqual, PhaseReleased)
		})

		Convey("a released session is unusable", func() {
			So(s.DisableAndRelease(), ShouldBeNil)
			_, err := s.EnablePowerStage(time.Second)
			So(err, ShouldEqual, ErrSessionReleased)
			_, err = s.TriggerJog(JogPositive, 3)
			So(err, ShouldEqual, ErrSessionReleased)
			So(s.StopJog(), ShouldEqual, ErrSessionReleased)
			_, err = s.ReadStatus()
			So(err, ShouldEqual, ErrSessionReleased)
			So(s.DisableAndRelease(), ShouldEqual, ErrSessionReleased)
		})
	})
}

func TestRunJog(t *testing.T) {
	Convey("Given a simulated drive", t, func() {
		sim, d, clk := newSimDrive()
		regs := d.Config().Registers
		plan := DefaultJogPlan()

		Convey("a clean run jogs, stops and releases", func() {
			out, err := d.RunJog(plan)
			So(err, ShouldBeNil)
			So(out.OK(), ShouldBeTrue)
			So(out.Jog.Attempts, ShouldEqual, 1)
			So(sim.ControlWords(), ShouldResemble, []ControlWord{CtrlShutdown, CtrlSwitchOn, CtrlEnableOperation, CtrlDisableVoltage})
			jogs := sim.WritesTo(regs.JogActivate)
			So(len(jogs), ShouldEqual, 3)
			So(jogs[0].Value, ShouldResemble, []byte{0x05, 0x00})
			So(jogs[1].Value, ShouldResemble, []byte{0x00, 0x00})
			So(clk.sleeps, ShouldContain, 4*time.Second)
			So(sim.Claimed(), ShouldBeFalse)
			So(d.Phase(), ShouldEqual, PhaseReleased)
		})

		Convey("an enable failure still releases the drive", func() {
			sim.Ignore(CtrlSwitchOn)
			out, err := d.RunJog(plan)
			var terr *StageTimeoutError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.Stage, ShouldEqual, StageSwitchOn)
			So(out.ReleaseErr, ShouldBeNil)
			So(sim.ControlWords(), ShouldResemble, []ControlWord{CtrlShutdown, CtrlSwitchOn, CtrlDisableVoltage})
			So(sim.Claimed(), ShouldBeFalse)
			So(clk.sleeps, ShouldNotContain, 4*time.Second)
		})

		Convey("a failed trigger stops and releases", func() {
			sim.FailWrites(regs.JogActivate, 3)
			out, err := d.RunJog(plan)
			var jerr *JogError
			So(errors.As(err, &jerr), ShouldBeTrue)
			So(out.StopErr, ShouldBeNil)
			So(out.ReleaseErr, ShouldBeNil)
			So(sim.Claimed(), ShouldBeFalse)
			So(sim.Jogging(), ShouldEqual, JogStop)
		})

		Convey("a release failure is surfaced", func() {
			d.t = &opLog{Transport: sim, regs: regs, onWrite: func(a Address, payload []byte) {
				if a == regs.ControlWord && payload[0] == byte(CtrlDisableVoltage) {
					sim.FailWrites(regs.ExclusiveAccess, 1)
				}
			}}
			out, err := d.RunJog(plan)
			So(out.ReleaseErr, ShouldNotBeNil)
			So(err, ShouldEqual, out.ReleaseErr)
			var terr *TransportError
			So(errors.As(err, &terr), ShouldBeTrue)
			So(terr.Register, ShouldEqual, "AccessExcl")
			So(d.Phase(), ShouldEqual, PhaseReleased)
		})

		Convey("a FailFast setup failure never enables", func() {
			plan.Policy = FailFast
			sim.FailWrites(regs.JogVelocity, 1)
			out, err := d.RunJog(plan)
			var serr *SetupError
			So(errors.As(err, &serr), ShouldBeTrue)
			So(out.Session, ShouldBeEmpty)
			So(len(sim.ControlWords()), ShouldEqual, 0)
			So(sim.Claimed(), ShouldBeFalse)
		})
	})
}
