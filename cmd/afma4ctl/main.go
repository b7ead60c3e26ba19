// Command afma4ctl operates an Afma4 robot from the command line: it reads and
// saves positions, replays position files, runs timed velocity commands,
// switches motor power and plots journaled sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/afma4/internal/config"
	"github.com/banshee-data/afma4/internal/fsutil"
	"github.com/banshee-data/afma4/internal/hardware"
	"github.com/banshee-data/afma4/internal/journal"
	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/robot"
	"github.com/banshee-data/afma4/internal/safety"
	"github.com/banshee-data/afma4/internal/timeutil"
	"github.com/banshee-data/afma4/internal/trace"
	"github.com/banshee-data/afma4/internal/units"
	"github.com/banshee-data/afma4/internal/version"
)

// DefaultVelocityPeriod is the command period of the velocity loop.
const DefaultVelocityPeriod = 50 * time.Millisecond

// errUsage marks command-line mistakes; run prints usage for them.
var errUsage = errors.New("usage")

func usageErr(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, v...))
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// app holds the global flags shared by every subcommand.
type app struct {
	cfg       *config.ControllerConfig
	stdout    io.Writer
	dev       bool
	port      string
	journal   string
	noJournal bool
	clock     timeutil.Clock
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("afma4ctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Controller configuration file (.json)")
	dev := fs.Bool("dev", false, "Use the in-memory simulator instead of the serial controller")
	port := fs.String("port", "", "Serial port (overrides serial_port in the config)")
	journalPath := fs.String("journal", "", "Journal database (overrides journal_path in the config)")
	noJournal := fs.Bool("no-journal", false, "Do not journal controller activity")
	showVersion := fs.Bool("version", false, "Print the version and exit")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "afma4ctl %s\n", version.String())
		return 0
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 2
	}

	cfg := &config.ControllerConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "afma4ctl: %v\n", err)
			return 1
		}
	}

	a := &app{
		cfg:       cfg,
		stdout:    stdout,
		dev:       *dev,
		port:      *port,
		journal:   *journalPath,
		noJournal: *noJournal,
		clock:     timeutil.RealClock{},
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch command {
	case "get":
		err = a.get(ctx, rest)
	case "move":
		err = a.move(ctx, rest)
	case "save":
		err = a.save(ctx, rest)
	case "velocity":
		err = a.velocity(ctx, rest)
	case "power":
		err = a.power(ctx, rest)
	case "plot":
		err = a.plot(rest)
	case "sessions":
		err = a.sessions()
	case "migrate":
		err = a.migrate()
	case "version":
		fmt.Fprintf(stdout, "afma4ctl %s\n", version.String())
	case "help":
		printUsage(stdout, fs)
	default:
		err = usageErr("unknown command %q", command)
	}

	if err != nil {
		fmt.Fprintf(stderr, "afma4ctl: %v\n", err)
		if errors.Is(err, errUsage) {
			printUsage(stderr, fs)
			return 2
		}
		return 1
	}
	return 0
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprint(w, `afma4ctl - operate an Afma4 robot

Usage: afma4ctl [flags] <command> [args]

Commands:
  get [frame]                         Print the position (articular, reference or camera)
  move [-speed pct] <file.pos>        Move to a saved joint position
  save <file.pos>                     Save the current joint position
  velocity [-for d] [-period p] <frame> <v...>
                                      Send a velocity for a while, then stop
  power on|off|status                 Switch or query motor power
  plot [-kind k] [-frame f] <session|latest> <out.png|out.html>
                                      Plot journaled measurements
  sessions                            List journaled sessions
  migrate                             Create or upgrade the journal schema
  version                             Print the version

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func (a *app) journalPath() string {
	if a.journal != "" {
		return a.journal
	}
	return a.cfg.GetJournalPath()
}

func (a *app) openJournal() (*journal.Journal, error) {
	j, err := journal.Open(a.journalPath())
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", a.journalPath(), err)
	}
	return j, nil
}

// session is an open controller with the resources it depends on.
type session struct {
	ctrl    *robot.Controller
	monitor *safety.Monitor
	closers []func() error
}

func (s *session) Close() {
	s.monitor.Close()
	if err := s.ctrl.Close(); err != nil {
		log.Printf("close controller: %v", err)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

// open connects to the robot, journals it unless disabled and installs the
// signal monitor that stops the robot on SIGINT or SIGTERM.
func (a *app) open(ctx context.Context) (*session, error) {
	s := &session{}
	fail := func(err error) (*session, error) {
		for i := len(s.closers) - 1; i >= 0; i-- {
			_ = s.closers[i]()
		}
		return nil, err
	}

	var hw robot.LowLevelController
	if a.dev {
		hw = hardware.NewSimulator(hardware.WithSimClock(a.clock), hardware.WithPower(true))
	} else {
		path := a.port
		if path == "" {
			path = a.cfg.GetSerialPort()
		}
		sc, err := hardware.OpenSerial(path, a.cfg.GetPortOptions(), nil)
		if err != nil {
			return fail(fmt.Errorf("open %s: %w", path, err))
		}
		s.closers = append(s.closers, sc.Close)
		hw = sc
	}

	opts := []robot.Option{
		robot.WithModel(kinematics.NewAfma4(a.cfg.GetCameraExtrinsic())),
		robot.WithClock(a.clock),
		robot.WithPositioningVelocity(a.cfg.GetPositioningVelocity()),
		robot.WithStopTimeout(a.cfg.GetStopTimeout()),
	}
	if l := a.cfg.GetVelocityLimits(); l != nil {
		opts = append(opts, robot.WithVelocityLimits(*l))
	}
	if !a.noJournal {
		j, err := a.openJournal()
		if err != nil {
			return fail(err)
		}
		s.closers = append(s.closers, j.Close)
		opts = append(opts, robot.WithRecorder(journal.NewRecorder(j, "afma4")))
	}

	ctrl, err := robot.New(hw, opts...)
	if err != nil {
		return fail(err)
	}
	s.ctrl = ctrl
	s.monitor = safety.Watch(ctx, ctrl, safety.WithTimeout(a.cfg.GetStopTimeout()))
	return s, nil
}

func (a *app) printPosition(p robot.Position) {
	if p.Frame == kinematics.Articular {
		rotational := []bool{true, false, true, true}
		fmt.Fprintf(a.stdout, "%s: %s\n", p.Frame, units.FormatJoints(p.Joints.Slice(), rotational, a.cfg.GetAngleUnit()))
		return
	}
	fmt.Fprintf(a.stdout, "%s: %s\n", p.Frame, formatVector(p.Vector()))
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', 6, 64)
	}
	return strings.Join(parts, " ")
}

func (a *app) get(ctx context.Context, args []string) error {
	frame := kinematics.Articular
	if len(args) > 1 {
		return usageErr("get takes at most one frame")
	}
	if len(args) == 1 {
		var err error
		if frame, err = kinematics.ParseFrame(args[0]); err != nil {
			return usageErr("%v", err)
		}
	}

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.ctrl.GetPosition(ctx, frame)
	if err != nil {
		return err
	}
	a.printPosition(p)
	return nil
}

func (a *app) move(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("move", flag.ContinueOnError)
	speed := fs.Float64("speed", 0, "Positioning velocity in percent (default from config)")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	if fs.NArg() != 1 {
		return usageErr("move takes one position file")
	}

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if *speed != 0 {
		if err := s.ctrl.SetPositioningVelocity(*speed); err != nil {
			return err
		}
	}

	moveCtx, cancel := context.WithTimeout(ctx, a.cfg.GetMoveTimeout())
	defer cancel()
	if err := s.ctrl.MoveToFile(moveCtx, fsutil.OSFileSystem{}, fs.Arg(0)); err != nil {
		return err
	}

	p, err := s.ctrl.GetPosition(ctx, kinematics.Articular)
	if err != nil {
		return err
	}
	a.printPosition(p)
	return nil
}

func (a *app) save(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("save takes one position file")
	}
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.ctrl.SavePosition(ctx, fsutil.OSFileSystem{}, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "saved %s\n", args[0])
	return nil
}

func parseValues(args []string) ([]float64, error) {
	v := make([]float64, len(args))
	for i, arg := range args {
		x, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, usageErr("velocity component %d: %v", i+1, err)
		}
		v[i] = x
	}
	return v, nil
}

// velocity runs the caller-side velocity loop: it resends the command every
// period and samples the measured joint velocity, then stops the robot.
func (a *app) velocity(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("velocity", flag.ContinueOnError)
	duration := fs.Duration("for", time.Second, "How long to apply the velocity")
	period := fs.Duration("period", DefaultVelocityPeriod, "Command period")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	if fs.NArg() < 2 {
		return usageErr("velocity takes a frame and its components")
	}
	if *duration <= 0 || *period <= 0 {
		return usageErr("-for and -period must be positive")
	}
	frame, err := kinematics.ParseFrame(fs.Arg(0))
	if err != nil {
		return usageErr("%v", err)
	}
	v, err := parseValues(fs.Args()[1:])
	if err != nil {
		return err
	}

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.ctrl.SetRobotState(ctx, robot.StateVelocityControl); err != nil {
		return err
	}

	var loopErr error
	s.monitor.Guard(func() {
		loopErr = a.velocityLoop(ctx, s.ctrl, frame, v, *duration, *period)
	})
	if err := s.ctrl.StopMotion(ctx); err != nil && loopErr == nil {
		loopErr = err
	}
	if loopErr != nil {
		return loopErr
	}

	p, err := s.ctrl.GetPosition(ctx, kinematics.Articular)
	if err != nil {
		return err
	}
	a.printPosition(p)
	return nil
}

func (a *app) velocityLoop(ctx context.Context, ctrl *robot.Controller, frame kinematics.Frame,
	v []float64, duration, period time.Duration) error {
	ticker := a.clock.NewTicker(period)
	defer ticker.Stop()
	deadline := a.clock.After(duration)

	for {
		if err := ctrl.SetVelocity(ctx, frame, v); err != nil {
			return err
		}
		if _, err := ctrl.GetVelocity(ctx, kinematics.Articular); err != nil && !errors.Is(err, robot.ErrTiming) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return nil
		case <-ticker.C():
		}
	}
}

func (a *app) power(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageErr("power takes on, off or status")
	}
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "on":
		err = s.ctrl.PowerOn(ctx)
	case "off":
		err = s.ctrl.PowerOff(ctx)
	case "status":
	default:
		return usageErr("unknown power action %q", args[0])
	}
	if err != nil {
		return err
	}

	on, err := s.ctrl.PowerState(ctx)
	if err != nil {
		return err
	}
	state := "off"
	if on {
		state = "on"
	}
	fmt.Fprintf(a.stdout, "power: %s\n", state)
	return nil
}

func resolveSession(j *journal.Journal, arg string) (uuid.UUID, error) {
	if arg != "latest" {
		id, err := uuid.Parse(arg)
		if err != nil {
			return uuid.Nil, usageErr("session %q: %v", arg, err)
		}
		return id, nil
	}
	sessions, err := j.Sessions()
	if err != nil {
		return uuid.Nil, err
	}
	if len(sessions) == 0 {
		return uuid.Nil, errors.New("journal has no sessions")
	}
	return sessions[len(sessions)-1].ID, nil
}

func (a *app) plot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	kind := fs.String("kind", robot.KindPosition, "Measurement kind: position, velocity or displacement")
	frameName := fs.String("frame", "articular", "Measurement frame")
	if err := fs.Parse(args); err != nil {
		return usageErr("%v", err)
	}
	if fs.NArg() != 2 {
		return usageErr("plot takes a session and an output file")
	}
	frame, err := kinematics.ParseFrame(*frameName)
	if err != nil {
		return usageErr("%v", err)
	}
	out := fs.Arg(1)

	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	id, err := resolveSession(j, fs.Arg(0))
	if err != nil {
		return err
	}
	rows, err := j.Measurements(id, *kind)
	if err != nil {
		return err
	}
	filtered := rows[:0]
	for _, r := range rows {
		if r.Frame == frame.String() {
			filtered = append(filtered, r)
		}
	}

	series, err := trace.FromMeasurements(fmt.Sprintf("%s %s (%s)", frame, *kind, id), filtered)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(out)) {
	case ".html":
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := trace.RenderHTML(series, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	default:
		if err := trace.RenderPNG(series, out); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.stdout, "wrote %s (%d samples)\n", out, series.Len())
	return nil
}

func (a *app) sessions() error {
	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	sessions, err := j.Sessions()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintf(a.stdout, "%s  %s  %s\n", s.ID, s.Started.Format(time.RFC3339), s.Model)
	}
	return nil
}

func (a *app) migrate() error {
	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	v, dirty, err := j.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "journal %s at schema version %d (dirty=%v)\n", a.journalPath(), v, dirty)
	return nil
}
