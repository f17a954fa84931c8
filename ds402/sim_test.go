package ds402

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nasa-jpl/servojog/enip"
)

func TestSimulatorGatesOnClaim(t *testing.T) {
	sim := NewSimulator(DefaultRegisters())
	regs := DefaultRegisters()
	b, _ := Encode(int64(CtrlShutdown), UINT)
	err := sim.WriteAttribute(regs.ControlWord, b)
	var cerr *enip.CIPError
	if !errors.As(err, &cerr) || cerr.GeneralStatus != enip.StatusPrivilegeViolation {
		t.Errorf("expected a privilege violation without the claim, got %v", err)
	}
	if ws := sim.Writes(); len(ws) != 1 || !ws[0].Failed {
		t.Errorf("expected one failed write in the log, got %+v", ws)
	}
	sim.RequireClaim(false)
	if err = sim.WriteAttribute(regs.ControlWord, b); err != nil {
		t.Errorf("expected the write to pass with gating off, got %v", err)
	}
	if s := sim.Status(); s != SimReadyToSwitchOn {
		t.Errorf("expected %s got %s", SimReadyToSwitchOn, s)
	}
}

func TestSimulatorLag(t *testing.T) {
	regs := DefaultRegisters()
	sim := NewSimulator(regs)
	sim.RequireClaim(false)
	sim.SetLag(1)
	b, _ := Encode(int64(CtrlShutdown), UINT)
	sim.WriteAttribute(regs.ControlWord, b)
	first, _ := sim.ReadAttribute(regs.StatusWord)
	second, _ := sim.ReadAttribute(regs.StatusWord)
	if v, _ := Decode(first, UINT); StatusWord(v) != SimSwitchOnDisabled {
		t.Errorf("expected the old state on the first read got %#x", v)
	}
	if v, _ := Decode(second, UINT); StatusWord(v) != SimReadyToSwitchOn {
		t.Errorf("expected the new state on the second read got %#x", v)
	}
}

func TestSimulatorRejectsJogWhenDisabled(t *testing.T) {
	regs := DefaultRegisters()
	sim := NewSimulator(regs)
	one, _ := Encode(1, UINT)
	sim.WriteAttribute(regs.ExclusiveAccess, one)
	jog, _ := Encode(int64(JogPositive), UINT)
	err := sim.WriteAttribute(regs.JogActivate, jog)
	var cerr *enip.CIPError
	if !errors.As(err, &cerr) || cerr.GeneralStatus != enip.StatusObjectStateConflict {
		t.Errorf("expected an object state conflict, got %v", err)
	}
	stop, _ := Encode(0, UINT)
	if err = sim.WriteAttribute(regs.JogActivate, stop); err != nil {
		t.Errorf("expected a stop to always be accepted, got %v", err)
	}
}

func TestSimulatorFault(t *testing.T) {
	sim, d, _ := newSimDrive()
	sim.SetFault(true)
	if st := sim.Status().PowerState(); st != StateFault {
		t.Fatalf("expected %s got %s", StateFault, st)
	}
	s, _, err := d.ClaimAndConfigure(-1, 1000, BestEffort)
	if err != nil {
		t.Fatal(err)
	}
	defer s.DisableAndRelease()
	_, err = s.EnablePowerStage(300 * time.Millisecond)
	var terr *StageTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected a stage timeout got %v", err)
	}
	if terr.Stage != StageShutdown || !terr.Status.Fault() {
		t.Errorf("expected the shutdown stage to time out on a faulted status, got %v", terr)
	}
	sim.SetFault(false)
	if _, err = s.EnablePowerStage(300 * time.Millisecond); err != nil {
		t.Errorf("expected enable to work after the fault cleared, got %v", err)
	}
}

func TestRunJogOverEtherNetIP(t *testing.T) {
	sim := NewSimulator(DefaultRegisters())
	sim.SetLag(1)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	srv := enip.NewServer(sim)
	srv.Log = quietLogger()
	go srv.Serve(ln)
	defer srv.Close()

	c := enip.NewClient(ln.Addr().String(), time.Second, 0)
	defer c.Close()

	cfg := DefaultConfig()
	cfg.StageTimeout = time.Second
	cfg.PollInterval = 5 * time.Millisecond
	cfg.JogRetryDelay = 5 * time.Millisecond
	cfg.RunDuration = 20 * time.Millisecond
	cfg.SettleDelay = 5 * time.Millisecond
	d := NewDrive(NewAttributeTransport(c), cfg, WithLogger(quietLogger()))

	out, err := d.RunJog(DefaultJogPlan())
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK() {
		t.Errorf("expected a clean run, got %+v", out)
	}
	cws := sim.ControlWords()
	expected := []ControlWord{CtrlShutdown, CtrlSwitchOn, CtrlEnableOperation, CtrlDisableVoltage}
	if len(cws) != len(expected) {
		t.Fatalf("expected control words %v got %v", expected, cws)
	}
	for i := range cws {
		if cws[i] != expected[i] {
			t.Errorf("control word %d: expected %v got %v", i, expected[i], cws[i])
		}
	}
	if sim.Claimed() {
		t.Error("expected the drive to be released")
	}
	s, err := d.Status()
	if err != nil {
		t.Fatal(err)
	}
	if s != SimSwitchOnDisabled {
		t.Errorf("expected %s got %s", SimSwitchOnDisabled, s)
	}
}
