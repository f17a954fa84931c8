package ds402

import (
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// fakeClock advances only when slept on
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

// statusScript returns a fixed sequence of status words, repeating the last.
// Reads whose index is in fail return an error instead.
type statusScript struct {
	statuses []uint16
	fail     map[int]bool
	reads    int
}

func (s *statusScript) ReadAttribute(a Address) ([]byte, error) {
	i := s.reads
	s.reads++
	if s.fail[i] {
		return nil, fmt.Errorf("read %d refused", i)
	}
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	return Encode(int64(s.statuses[i]), UINT)
}

func (s *statusScript) WriteAttribute(a Address, payload []byte) error {
	return nil
}

// opLog wraps a Transport and records every operation as "R" or "W name=value"
type opLog struct {
	Transport
	regs    Registers
	ops     []string
	onWrite func(a Address, payload []byte)
}

func (o *opLog) ReadAttribute(a Address) ([]byte, error) {
	o.ops = append(o.ops, "R")
	return o.Transport.ReadAttribute(a)
}

func (o *opLog) WriteAttribute(a Address, payload []byte) error {
	v, _ := Decode(payload, INT)
	o.ops = append(o.ops, fmt.Sprintf("W %s=%d", o.regs.name(a), v))
	if o.onWrite != nil {
		o.onWrite(a, payload)
	}
	return o.Transport.WriteAttribute(a, payload)
}

// newSimDrive returns a simulator and a drive on it running on a fake clock
func newSimDrive() (*Simulator, *Drive, *fakeClock) {
	sim := NewSimulator(DefaultRegisters())
	clk := newFakeClock()
	d := NewDrive(sim, DefaultConfig(), WithClock(clk, clk.Sleep), WithLogger(quietLogger()))
	return sim, d, clk
}

// retryHook records how many sleeps the clock had seen when each jog retry
// warning was logged
type retryHook struct {
	clk *fakeClock
	at  []int
}

func (h *retryHook) Levels() []log.Level { return []log.Level{log.WarnLevel} }

func (h *retryHook) Fire(e *log.Entry) error {
	if strings.HasPrefix(e.Message, "jog trigger attempt") {
		h.at = append(h.at, len(h.clk.sleeps))
	}
	return nil
}
