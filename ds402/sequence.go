package ds402

// JogPlan is what RunJog configures and commands.  Timing comes from the
// drive's Config.
type JogPlan struct {
	OpMode   int16       `koanf:"OpMode" yaml:"OpMode"`
	Velocity int32       `koanf:"Velocity" yaml:"Velocity"`
	Command  JogCommand  `koanf:"Command" yaml:"Command"`
	Policy   SetupPolicy `koanf:"-" yaml:"-"`
}

// DefaultJogPlan is the jog mode, fast positive jog at 1000 the drive was
// commissioned with
func DefaultJogPlan() JogPlan {
	return JogPlan{
		OpMode:   -1,
		Velocity: 1000,
		Command:  JogPositive | JogFast,
		Policy:   BestEffort,
	}
}

// Outcome collects everything RunJog did
type Outcome struct {
	Session string
	Setup   SetupReport
	Enable  EnableReport
	Jog     JogResult

	StopErr    error
	ReleaseErr error
}

// RunJog claims the drive, enables the power stage, jogs for
// Config.RunDuration, stops, waits Config.SettleDelay, then disables and
// releases.  Once the claim succeeded the release always runs, whichever
// step fails.  The returned error is the first failure.
func (d *Drive) RunJog(plan JogPlan) (out Outcome, err error) {
	d.report("Claiming drive")
	s, setup, err := d.ClaimAndConfigure(plan.OpMode, plan.Velocity, plan.Policy)
	out.Setup = setup
	if err != nil {
		return out, err
	}
	out.Session = s.ID()
	defer func() {
		out.ReleaseErr = s.DisableAndRelease()
		if err == nil {
			err = out.ReleaseErr
		}
	}()

	out.Enable, err = s.EnablePowerStage(d.cfg.StageTimeout)
	if err != nil {
		if last, lerr := s.ReadStatus(); lerr == nil {
			s.log.WithField("status", last).Error("Failed to enable drive")
		}
		return out, err
	}

	out.Jog, err = s.TriggerJog(plan.Command, d.cfg.JogAttempts)
	if err != nil {
		// a trigger whose reply was lost may still have started the axis
		out.StopErr = s.StopJog()
		return out, err
	}
	d.report("Jogging")
	s.log.Infof("Running for %v...", d.cfg.RunDuration)
	d.sleep(d.cfg.RunDuration)

	out.StopErr = s.StopJog()
	d.sleep(d.cfg.SettleDelay)
	return out, out.StopErr
}

// OK is true if every step of the run succeeded
func (o Outcome) OK() bool {
	return o.Setup.OK() && o.Enable.OK() && o.Jog.OK && o.StopErr == nil && o.ReleaseErr == nil
}
