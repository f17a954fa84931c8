package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/servojog/ds402"
	"github.com/nasa-jpl/servojog/enip"
	"github.com/nasa-jpl/servojog/generichttp"
	"github.com/nasa-jpl/servojog/server/middleware/locker"
	"github.com/nasa-jpl/servojog/util"
)

// Timing holds the waits of the jog sequence, all in seconds
type Timing struct {
	StageTimeout  float64 `koanf:"StageTimeout" yaml:"StageTimeout"`
	PollInterval  float64 `koanf:"PollInterval" yaml:"PollInterval"`
	JogAttempts   int     `koanf:"JogAttempts" yaml:"JogAttempts"`
	JogRetryDelay float64 `koanf:"JogRetryDelay" yaml:"JogRetryDelay"`
	RunDuration   float64 `koanf:"RunDuration" yaml:"RunDuration"`
	SettleDelay   float64 `koanf:"SettleDelay" yaml:"SettleDelay"`
}

// Config is the servojog configuration file
type Config struct {
	// Addr is the host:port of the drive; the port defaults to 44818
	Addr string `koanf:"Addr" yaml:"Addr"`

	// RequestTimeout bounds each connect, read and write, in seconds
	RequestTimeout float64 `koanf:"RequestTimeout" yaml:"RequestTimeout"`

	// RequestRate caps requests per second to the drive, 0 for no cap
	RequestRate float64 `koanf:"RequestRate" yaml:"RequestRate"`

	// Listen is the HTTP listen address of serve, and Endpoint the route stem
	Listen   string `koanf:"Listen" yaml:"Listen"`
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Mock swaps the network drive for an in-process simulator
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Policy is FailFast or BestEffort
	Policy string `koanf:"Policy" yaml:"Policy"`

	// LogLevel is a logrus level name
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	Plan      ds402.JogPlan   `koanf:"Plan" yaml:"Plan"`
	Timing    Timing          `koanf:"Timing" yaml:"Timing"`
	Registers ds402.Registers `koanf:"Registers" yaml:"Registers"`
}

// DefaultConfig is what mkconf writes with no file present
func DefaultConfig() Config {
	dc := ds402.DefaultConfig()
	return Config{
		Addr:           "192.168.1.10:44818",
		RequestTimeout: 3,
		RequestRate:    50,
		Listen:         ":8000",
		Endpoint:       "/drive",
		Policy:         ds402.BestEffort.String(),
		LogLevel:       "info",
		Plan:           ds402.DefaultJogPlan(),
		Timing: Timing{
			StageTimeout:  util.DurationToSecs(dc.StageTimeout),
			PollInterval:  util.DurationToSecs(dc.PollInterval),
			JogAttempts:   dc.JogAttempts,
			JogRetryDelay: util.DurationToSecs(dc.JogRetryDelay),
			RunDuration:   util.DurationToSecs(dc.RunDuration),
			SettleDelay:   util.DurationToSecs(dc.SettleDelay),
		},
		Registers: dc.Registers,
	}
}

// DriveConfig converts the file's timing and registers to a ds402.Config
func (c Config) DriveConfig() ds402.Config {
	return ds402.Config{
		Registers:     c.Registers,
		StageTimeout:  util.SecsToDuration(c.Timing.StageTimeout),
		PollInterval:  util.SecsToDuration(c.Timing.PollInterval),
		JogAttempts:   c.Timing.JogAttempts,
		JogRetryDelay: util.SecsToDuration(c.Timing.JogRetryDelay),
		RunDuration:   util.SecsToDuration(c.Timing.RunDuration),
		SettleDelay:   util.SecsToDuration(c.Timing.SettleDelay),
	}
}

// JogPlan returns the plan with the configured setup policy
func (c Config) JogPlan() (ds402.JogPlan, error) {
	p := c.Plan
	pol, ok := ds402.ParseSetupPolicy(c.Policy)
	if !ok {
		return p, fmt.Errorf("unknown setup policy %q, want FailFast or BestEffort", c.Policy)
	}
	p.Policy = pol
	return p, nil
}

// Transport returns the drive transport and a func to close it.  With Mock
// set the transport is a fresh simulator.
func (c Config) Transport() (ds402.Transport, func() error) {
	if c.Mock {
		sim := ds402.NewSimulator(c.Registers)
		sim.SetLag(1)
		return sim, func() error { return nil }
	}
	cl := enip.NewClient(c.Addr, util.SecsToDuration(c.RequestTimeout), c.RequestRate)
	return ds402.NewAttributeTransport(cl), cl.Close
}

// configureLogging sets the logrus level and formatter
func configureLogging(c Config) {
	lvl, err := log.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		log.Warnf("unknown log level %q, using info", c.LogLevel)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.StampMilli})
}

// BuildMux mounts the drive's HTTP interface behind a lock at c.Endpoint.
// The mux also serves /endpoints, a JSON map of stem to routes.
func BuildMux(c Config, d *ds402.Drive, plan ds402.JogPlan) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)

	httper := ds402.NewHTTPWrapper(d, plan)
	lock := locker.New()
	locker.Inject(httper, lock)

	stem := generichttp.SubMuxSanitize(c.Endpoint)
	r := chi.NewRouter()
	r.Use(lock.Check)
	httper.RT().Bind(r)
	root.Mount(stem, r)

	supergraph := map[string][]string{stem: httper.RT().Endpoints()}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, supergraph)
	})
	return root
}

// startSpinner starts a progress spinner writing to w
func startSpinner(w io.Writer, msg string) (*yacspin.Spinner, error) {
	sp, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           msg,
		StopCharacter:     "done",
		StopFailCharacter: "failed",
	})
	if err != nil {
		return nil, fmt.Errorf("could not create progress spinner: %w", err)
	}
	if err = sp.Start(); err != nil {
		return nil, fmt.Errorf("could not start progress spinner: %w", err)
	}
	return sp, nil
}
