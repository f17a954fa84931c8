package ds402

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
)

var errEmptyPayload = errors.New("empty payload")

// ReadFailure is a failed status read.  It is transient and matches
// ErrReadFailure with errors.Is.
type ReadFailure struct {
	Err error
}

func (e *ReadFailure) Error() string { return ErrReadFailure.Error() + ": " + e.Err.Error() }

func (e *ReadFailure) Unwrap() error { return e.Err }

// Is reports whether target is ErrReadFailure
func (e *ReadFailure) Is(target error) bool { return target == ErrReadFailure }

// Poller reads the status word and waits on its bits.
//
// There is no cancellation of a wait in progress; a wait always runs until
// the bit matches or the timeout elapses.  Callers wanting an early abort
// must use a short timeout and not call back in.
type Poller struct {
	Transport Transport

	// Register is the status word address
	Register Address

	// Interval is the delay between reads
	Interval time.Duration

	// Clock and Sleep drive the deadline; they default to the wall clock
	Clock backoff.Clock
	Sleep func(time.Duration)

	Log log.FieldLogger
}

// NewPoller returns a poller on the wall clock
func NewPoller(t Transport, register Address, interval time.Duration) *Poller {
	return &Poller{
		Transport: t,
		Register:  register,
		Interval:  interval,
		Clock:     backoff.SystemClock,
		Sleep:     time.Sleep,
		Log:       log.StandardLogger(),
	}
}

// WaitResult is the outcome of a Wait
type WaitResult struct {
	// Matched is true if the bit reached the target before the deadline
	Matched bool

	// Last is the most recent successfully read status word, valid if HaveLast
	Last     StatusWord
	HaveLast bool

	// Polls is the number of reads attempted, Failures how many of them failed
	Polls    int
	Failures int

	Elapsed time.Duration
}

// ReadStatus issues one read of the status word.  Any failure, including an
// empty or short payload, is a *ReadFailure.
func (p *Poller) ReadStatus() (StatusWord, error) {
	b, err := p.Transport.ReadAttribute(p.Register)
	if err != nil {
		return 0, &ReadFailure{Err: &TransportError{Op: "read", Register: "StatusWord", Addr: p.Register, Err: err}}
	}
	if len(b) == 0 {
		return 0, &ReadFailure{Err: errEmptyPayload}
	}
	v, err := DecodeUnsigned(b, UINT.Width())
	if err != nil {
		return 0, &ReadFailure{Err: err}
	}
	return StatusWord(v), nil
}

// WaitForBit polls until bit equals target or timeout elapses
func (p *Poller) WaitForBit(bit uint, target bool, timeout time.Duration) bool {
	return p.Wait(bit, target, timeout).Matched
}

// Wait polls until bit equals target or timeout elapses.  Failed reads count
// as non-matching and polling continues.  No read is issued once the
// elapsed time reaches timeout, and the final sleep is cut short at the deadline.
func (p *Poller) Wait(bit uint, target bool, timeout time.Duration) WaitResult {
	var (
		res   WaitResult
		clock = p.Clock
		sleep = p.Sleep
	)
	if clock == nil {
		clock = backoff.SystemClock
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	start := clock.Now()
	for {
		elapsed := clock.Now().Sub(start)
		if elapsed >= timeout {
			res.Elapsed = elapsed
			return res
		}
		res.Polls++
		status, err := p.ReadStatus()
		if err != nil {
			res.Failures++
			if p.Log != nil {
				p.Log.WithField("poll", res.Polls).Debugf("%v", err)
			}
		} else {
			res.Last, res.HaveLast = status, true
			if status.Bit(bit) == target {
				res.Matched = true
				res.Elapsed = clock.Now().Sub(start)
				return res
			}
		}
		nap := p.Interval
		if remaining := timeout - clock.Now().Sub(start); remaining < nap {
			nap = remaining
		}
		if nap > 0 {
			sleep(nap)
		}
	}
}
