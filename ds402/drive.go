// Package ds402 drives a servo amplifier through the CiA DS-402 power state
// machine over single attribute reads and writes.
//
// A Drive is claimed with ClaimAndConfigure, which returns the Session that
// every later command requires.  The power stage is enabled one gated
// transition at a time, each confirmed by the status word, and the session
// is consumed by DisableAndRelease.  RunJog performs the whole sequence once.
package ds402

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
)

// Drive is a DS-402 axis reachable through a Transport
type Drive struct {
	t   Transport
	cfg Config

	log      log.FieldLogger
	clock    backoff.Clock
	sleep    func(time.Duration)
	progress func(string)

	mu      sync.Mutex
	phase   Phase
	session *Session
}

// Option configures a Drive
type Option func(*Drive)

// WithLogger sets the logger; the default is the logrus standard logger
func WithLogger(l log.FieldLogger) Option {
	return func(d *Drive) { d.log = l }
}

// WithClock replaces the wall clock and time.Sleep, for every wait the drive makes
func WithClock(c backoff.Clock, sleep func(time.Duration)) Option {
	return func(d *Drive) {
		d.clock = c
		d.sleep = sleep
	}
}

// WithProgress registers fn to be called with a short message as RunJog
// moves between steps
func WithProgress(fn func(string)) Option {
	return func(d *Drive) { d.progress = fn }
}

// NewDrive returns a Drive on t
func NewDrive(t Transport, cfg Config, opts ...Option) *Drive {
	d := &Drive{
		t:     t,
		cfg:   cfg,
		log:   log.StandardLogger(),
		clock: backoff.SystemClock,
		sleep: time.Sleep,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Config returns the configuration the drive was made with
func (d *Drive) Config() Config {
	return d.cfg
}

// Phase returns the current lifecycle phase
func (d *Drive) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

func (d *Drive) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
}

// Status reads the status word.  It needs no session and is safe to use for
// monitoring while another caller holds the drive.
func (d *Drive) Status() (StatusWord, error) {
	return d.poller(d.log).ReadStatus()
}

func (d *Drive) poller(l log.FieldLogger) *Poller {
	p := NewPoller(d.t, d.cfg.Registers.StatusWord, d.cfg.PollInterval)
	p.Clock, p.Sleep, p.Log = d.clock, d.sleep, l
	return p
}

func (d *Drive) report(msg string) {
	if d.progress != nil {
		d.progress(msg)
	}
}

// write encodes v and writes it to a, logging the outcome
func (d *Drive) write(l log.FieldLogger, a Address, v int64, enc Encoding) error {
	name := d.cfg.Registers.name(a)
	b, err := Encode(v, enc)
	if err != nil {
		return err
	}
	if err = d.t.WriteAttribute(a, b); err != nil {
		l.WithFields(log.Fields{"register": name, "value": v}).Warnf("[X] Failed to set %s", name)
		return &TransportError{Op: "write", Register: name, Addr: a, Err: err}
	}
	l.WithFields(log.Fields{"register": name, "value": v}).Debugf("[O] Set %s to %d", name, v)
	return nil
}
