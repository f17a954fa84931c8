package ds402

import (
	"time"

	"github.com/cenkalti/backoff"
)

// JogResult is the outcome of TriggerJog
type JogResult struct {
	Command  JogCommand
	OK       bool
	Attempts int
}

// TriggerJog writes cmd to the jog activate register, retrying up to
// maxAttempts writes in total with Config.JogRetryDelay between them.  The
// power stage must be in OperationEnabled.
func (s *Session) TriggerJog(cmd JogCommand, maxAttempts int) (JogResult, error) {
	res := JogResult{Command: cmd}
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.check(); err != nil {
		return res, err
	}
	d := s.d
	if d.Phase() != PhaseOperationEnabled {
		return res, ErrNotEnabled
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	d.report("Triggering jog")
	op := func() error {
		res.Attempts++
		s.log.WithField("attempt", res.Attempts).Infof("Attempt %d: Sending Jog Trigger...", res.Attempts)
		err := d.write(s.log, d.cfg.Registers.JogActivate, int64(cmd), UINT)
		if err != nil && res.Attempts < maxAttempts {
			s.log.WithError(err).Warnf("jog trigger attempt %d failed", res.Attempts)
		}
		return err
	}
	var err error
	if maxAttempts == 1 {
		err = op()
	} else {
		b := backoff.WithMaxRetries(&sleeperBackOff{delay: d.cfg.JogRetryDelay, sleep: d.sleep}, uint64(maxAttempts-1))
		err = backoff.Retry(op, b)
	}
	if err != nil {
		s.log.Errorf("jog trigger failed after %d attempts", res.Attempts)
		return res, &JogError{Attempts: res.Attempts, Err: err}
	}
	res.OK = true
	s.log.Info("Jog command accepted")
	return res, nil
}

// StopJog writes 0 to the jog activate register once.  It is never retried;
// a failure is logged and returned immediately so the caller can fall back
// to disabling the power stage.
func (s *Session) StopJog() error {
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	d := s.d
	d.report("Stopping jog")
	s.log.Info("Stopping Jog...")
	if err := d.write(s.log, d.cfg.Registers.JogActivate, int64(JogStop), UINT); err != nil {
		s.log.WithError(err).Error("JOG STOP FAILED, the axis may still be moving")
		return err
	}
	return nil
}

// sleeperBackOff is a constant backoff that does its own sleeping on the
// drive's injected sleep and hands backoff a zero wait
type sleeperBackOff struct {
	delay time.Duration
	sleep func(time.Duration)
}

func (b *sleeperBackOff) NextBackOff() time.Duration {
	if b.delay > 0 {
		b.sleep(b.delay)
	}
	return 0
}

func (b *sleeperBackOff) Reset() {}
