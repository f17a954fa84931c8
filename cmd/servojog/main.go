package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/servojog/ds402"
	"github.com/nasa-jpl/servojog/enip"
	"github.com/nasa-jpl/servojog/server"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "servojog.yml"

	// EnvPrefix prefixes environment overrides, e.g. SERVOJOG_ADDR or SERVOJOG_TIMING__RUNDURATION
	EnvPrefix = "SERVOJOG_"

	k = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

// envKey maps SERVOJOG_TIMING__RUNDURATION to Timing.RunDuration.  Variables
// that name no known key are dropped.
func envKey(s string) string {
	s = strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", ".")
	for _, key := range k.Keys() {
		if strings.EqualFold(key, s) {
			return key
		}
	}
	return ""
}

func loadconf() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	configureLogging(c)
	return c
}

func root() {
	str := `servojog puts a DS-402 servo drive through its enable sequence over
EtherNet/IP, jogs it, and shuts it back down.

Usage:
	servojog <command> [flags]

Commands:
	run
	serve
	simulate
	status
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `servojog is amenable to configuration via its .yaml file, servojog.yml in the
working directory.  Run mkconf to write one holding the defaults.  Any key can be
overridden from the environment, SERVOJOG_ADDR=10.0.0.5 or
SERVOJOG_TIMING__RUNDURATION=2 for nested keys.  Times are in seconds.

run       claim the drive, enable it, jog for Timing.RunDuration, stop, release
	--mock       use the in-process simulator instead of the network drive
	--addr       drive address, overrides Addr
	--policy     FailFast or BestEffort
	--velocity   jog velocity
	--command    jog command bitmask, 1 positive, 2 negative, 4 fast
serve     expose the drive over HTTP at Listen, routes under Endpoint
	--mock, --addr as for run
simulate  serve a simulated drive over EtherNet/IP
	--listen     address to listen on, default :44818
	--lag        status reads before a commanded state shows
status    print the status word once
	--mock, --addr as for run

Setup policy:
BestEffort attempts every setup write and carries on past failures, the way
the drive was commissioned.  FailFast stops at the first failed write and
releases the drive.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("servojog version %v\n", Version)
}

// driveFlags adds the flags shared by every command that talks to a drive
func driveFlags(fs *pflag.FlagSet, c *Config) {
	fs.BoolVar(&c.Mock, "mock", c.Mock, "use the in-process simulator")
	fs.StringVar(&c.Addr, "addr", c.Addr, "drive address host[:port]")
}

func run() {
	c := loadconf()
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	driveFlags(fs, &c)
	fs.StringVar(&c.Policy, "policy", c.Policy, "setup policy, FailFast or BestEffort")
	fs.Int32Var(&c.Plan.Velocity, "velocity", c.Plan.Velocity, "jog velocity")
	cmd := fs.Uint16("command", uint16(c.Plan.Command), "jog command bitmask")
	fs.Parse(os.Args[2:])
	c.Plan.Command = ds402.JogCommand(*cmd)

	plan, err := c.JogPlan()
	if err != nil {
		log.Fatal(err)
	}
	t, closer := c.Transport()
	defer closer()

	spinner, err := startSpinner(os.Stdout, "connecting to "+c.Addr)
	if err != nil {
		log.Fatal(err)
	}
	// logs and the spinner share the terminal; quiet the former while spinning
	lvl := log.GetLevel()
	if lvl < log.DebugLevel {
		log.SetLevel(log.ErrorLevel)
	}
	d := ds402.NewDrive(t, c.DriveConfig(), ds402.WithProgress(func(msg string) { spinner.Message(msg) }))
	out, err := d.RunJog(plan)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
	} else {
		spinner.StopMessage(fmt.Sprintf("jogged with %d trigger attempt(s)", out.Jog.Attempts))
		spinner.Stop()
	}
	log.SetLevel(lvl)

	for _, f := range out.Setup.Failures() {
		fmt.Printf("[X] setup write %s failed: %v\n", f.Register, f.Err)
	}
	for _, st := range out.Enable.Stages {
		mark := "[O]"
		if !st.OK {
			mark = "[X]"
		}
		fmt.Printf("%s %-16s %d poll(s)", mark, st.Stage.Target(), st.Polls)
		if st.HaveStatus {
			fmt.Printf(", status %s", st.Status)
		}
		fmt.Println()
	}
	if out.StopErr != nil {
		fmt.Printf("[X] jog stop failed: %v\n", out.StopErr)
	}
	if out.ReleaseErr != nil {
		fmt.Printf("[X] release failed: %v\n", out.ReleaseErr)
	}
	if err != nil {
		closer()
		os.Exit(1)
	}
}

func serve() {
	c := loadconf()
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	driveFlags(fs, &c)
	fs.StringVar(&c.Listen, "listen", c.Listen, "HTTP listen address")
	fs.Parse(os.Args[2:])

	plan, err := c.JogPlan()
	if err != nil {
		log.Fatal(err)
	}
	t, closer := c.Transport()
	defer closer()
	d := ds402.NewDrive(t, c.DriveConfig())
	mux := BuildMux(c, d, plan)
	log.Println("now listening for requests at ", c.Listen)
	if err = server.ListenAndServe(c.Listen, mux, 5*time.Second); err != nil {
		log.Error(err)
	}
}

func simulate() {
	c := loadconf()
	fs := pflag.NewFlagSet("simulate", pflag.ExitOnError)
	listen := fs.String("listen", ":"+enip.DefaultPort, "EtherNet/IP listen address")
	lag := fs.Int("lag", 1, "status reads before a commanded state shows")
	fs.Parse(os.Args[2:])

	sim := ds402.NewSimulator(c.Registers)
	sim.SetLag(*lag)
	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatal(err)
	}
	srv := enip.NewServer(sim)
	go func() {
		<-server.Interrupts()
		srv.Close()
	}()
	log.Println("simulated drive listening at ", ln.Addr())
	if err = srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Fatal(err)
	}
}

func status() {
	c := loadconf()
	fs := pflag.NewFlagSet("status", pflag.ExitOnError)
	driveFlags(fs, &c)
	fs.Parse(os.Args[2:])

	t, closer := c.Transport()
	defer closer()
	s, err := ds402.NewDrive(t, c.DriveConfig()).Status()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("status word %s, %s\n", s, s.PowerState())
	for _, name := range []string{"ReadyToSwitchOn", "SwitchedOn", "OperationEnabled", "Fault",
		"VoltageEnabled", "QuickStop", "SwitchOnDisabled", "Warning", "Remote", "TargetReached", "InternalLimit"} {
		v, _ := s.Named(name)
		fmt.Printf("\t%-16s %v\n", name, v)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "serve":
		serve()
		return
	case "simulate":
		simulate()
		return
	case "status":
		status()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
