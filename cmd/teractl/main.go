package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codeberg.org/teralab/teractl/internal/app"
	"codeberg.org/teralab/teractl/internal/config"
	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/engine"
	"codeberg.org/teralab/teractl/internal/hal"
	"codeberg.org/teralab/teractl/internal/hal/mercury"
	"codeberg.org/teralab/teractl/internal/hal/simulated"
	"codeberg.org/teralab/teractl/internal/hal/teraflash"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/notify"
	"codeberg.org/teralab/teractl/internal/pid"
	"codeberg.org/teralab/teractl/internal/registry"
	"codeberg.org/teralab/teractl/internal/runner"
	"codeberg.org/teralab/teractl/internal/store"
	"codeberg.org/teralab/teractl/internal/sweep"
	"codeberg.org/teralab/teractl/internal/telemetry"
)

const simulatedAddress = "simulated"

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(string(cfg.LogLevel), logger.IsService())
	logger.Debug().Str("file", cfg.File()).Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to acquire PID lock")
	}

	code := 0
	if err := run(); err != nil {
		logger.Error().Err(err).Msg("teractl failed")
		code = 1
	}

	if err := pid.Remove(); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	os.Exit(code)
}

type instruments struct {
	registry *registry.Registry
	itc      *mercury.Controller
	ips      *mercury.Controller
}

func newInstruments() (*instruments, error) {
	var thz hal.Instrument
	if cfg.Simulate {
		thz = simulated.New(simulated.WithTimeout(cfg.THz.Timeout))
	} else {
		thz = teraflash.New(
			teraflash.WithTimeout(cfg.THz.Timeout),
			teraflash.WithChannel(cfg.THz.Channel),
			teraflash.WithLocalAddr(cfg.THz.LocalAddr),
		)
	}

	inst := &instruments{
		registry: registry.New(),
		itc:      mercury.New(mercury.ITC(cfg.Mercury.Ignore...), mercury.WithTimeout(cfg.Mercury.Timeout)),
		ips:      mercury.New(mercury.IPS(cfg.Mercury.Ignore...), mercury.WithTimeout(cfg.Mercury.Timeout)),
	}

	for _, r := range []struct {
		name string
		inst hal.Instrument
	}{
		{config.InstrumentTHz, thz},
		{config.InstrumentTemperature, inst.itc},
		{config.InstrumentField, inst.ips},
	} {
		if err := inst.registry.Register(r.name, r.inst); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

func (i *instruments) engines() sweep.Engines {
	return sweep.Engines{
		Temperature: engine.NewTemperature(i.itc, cfg.Mercury.TemperatureDevice),
		Field:       engine.NewField(i.ips, cfg.Mercury.FieldDevice),
		Settings: sweep.FieldSettings{
			SafetyMargin:  cfg.Field.SafetyMargin,
			Stabilization: cfg.Field.Stabilization,
			SettleSlack:   cfg.Field.SettleSlack,
			MaxSettle:     cfg.Field.MaxSettle,
		},
	}
}

func address(name string) string {
	if addr := cfg.Address(name); addr != "" {
		return addr
	}
	if cfg.Simulate && name == config.InstrumentTHz {
		return simulatedAddress
	}
	return ""
}

func run() error {
	inst, err := newInstruments()
	if err != nil {
		return err
	}

	if len(cfg.Queries) > 0 {
		ctrl := app.New(inst.registry, config.InstrumentTHz)
		defer ctrl.Close()
		return runQueries(ctrl)
	}

	runStore, err := store.New(store.DefaultConfig(cfg.Store.Path))
	if err != nil {
		return err
	}
	defer func() {
		if err := runStore.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("failed to close run store")
		}
	}()

	recorder, err := telemetry.NewRecorder(telemetry.Config{
		Enabled: cfg.Telemetry.Enabled,
		DBPath:  cfg.Telemetry.Path,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry")
		}
	}()

	opts := []app.Option{
		app.WithEngines(inst.engines()),
		app.WithSinks(runStore, recorder),
		app.WithQuantum(cfg.Runner.Quantum),
		app.WithAddressSaver(cfg),
	}

	if cfg.Runner.SafeDumpDir != "" {
		dumper, err := runner.NewSafeDumper(cfg.Runner.SafeDumpDir)
		if err != nil {
			return err
		}
		opts = append(opts, app.WithSafeDump(dumper))
	}

	if cfg.Notify.Addr != "" {
		bridge := notify.New()
		if _, err := bridge.Start(cfg.Notify.Addr); err != nil {
			return err
		}
		defer func() {
			if err := bridge.Stop(); err != nil {
				logger.Error().Err(err).Msg("failed to stop notification server")
			}
		}()
		opts = append(opts, app.WithListeners(bridge))
	}

	ctrl := app.New(inst.registry, config.InstrumentTHz, opts...)
	defer ctrl.Close()

	for _, name := range ctrl.InstrumentNames() {
		addr := address(name)
		if addr == "" {
			logger.Debug().Str("instrument", name).Msg("No address configured, skipping")
			continue
		}
		ctrl.Connect(name, addr)
	}
	if !ctrl.IsConnected(config.InstrumentTHz) {
		return fmt.Errorf("%s is not connected", config.InstrumentTHz)
	}

	req := app.RunRequest{
		Axis:  cfg.Sweep.Axis,
		Start: cfg.Sweep.Start,
		Stop:  cfg.Sweep.Stop,
		Step:  cfg.Sweep.Step,
		Dwell: time.Duration(cfg.Sweep.Dwell * float64(time.Second)),
		Metadata: data.Metadata{
			Operator: cfg.Operator,
			Sample:   cfg.Sample,
			Label:    cfg.Label,
			Comment:  cfg.Comment,
		},
	}
	if !ctrl.RunExperiment(req) {
		return fmt.Errorf("run refused for axis %q", req.Axis)
	}

	return loop(ctrl)
}

// loop drains run events on the main goroutine until the run ends. The
// first SIGINT or SIGTERM aborts the run, a second one exits. SIGUSR1
// toggles pause.
func loop(ctrl *app.Controller) error {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Wait(context.Background()); err != nil {
			logger.Error().Err(err).Msg("error waiting for run")
		}
	}()

	progress := &progressLog{}
	events := ctrl.Events()
	terminating := false

	for {
		select {
		case <-events.Ready():
			events.Drain(progress)
		case sig := <-sigs:
			switch {
			case sig == syscall.SIGUSR1:
				if !ctrl.Pause() && !ctrl.Resume() {
					logger.Warn().Msg("Nothing to pause or resume")
				}
			case terminating:
				logger.Warn().Msg("Received second termination signal, exiting")
				return fmt.Errorf("interrupted")
			default:
				terminating = true
				logger.Info().Msg("Received termination signal. Aborting run...")
				ctrl.Abort()
			}
		case <-done:
			events.Drain(progress)
			_, err := ctrl.LastRun()
			if terminating {
				return nil
			}
			return err
		}
	}
}

func runQueries(ctrl *app.Controller) error {
	for _, q := range cfg.Queries {
		name, cmd, ok := strings.Cut(q, "=")
		if !ok || name == "" || cmd == "" {
			return fmt.Errorf("invalid query %q, expected name=CMD", q)
		}

		if !ctrl.IsConnected(name) {
			addr := address(name)
			if addr == "" {
				return fmt.Errorf("no address configured for %s", name)
			}
			if !ctrl.Connect(name, addr) {
				return fmt.Errorf("failed to connect %s", name)
			}
		}
		fmt.Println(ctrl.Query(name, cmd))
	}
	return nil
}

// progressLog reports run events through the logger.
type progressLog struct {
	runner.NopListener
	lastMessage string
}

func (p *progressLog) RunStarted(sweep map[string]any) {
	logger.Info().Interface("run", sweep["experiment_id"]).Msg("Run started")
}

func (p *progressLog) StepStarted(meta map[string]any) {
	logger.Info().
		Interface("index", meta["index"]).
		Interface("value", meta["value"]).
		Interface("unit", meta["unit"]).
		Msg("Step started")
}

func (p *progressLog) StepProgress(elapsed, estimate time.Duration, message string) {
	if message == p.lastMessage {
		return
	}
	p.lastMessage = message
	logger.Debug().
		Dur("elapsed", elapsed).
		Dur("estimate", estimate).
		Str("phase", message).
		Msg("Step progress")
}

func (p *progressLog) StepFinished(index, total int) {
	p.lastMessage = ""
	logger.Info().Msgf("Step %d/%d done", index, total)
}

func (p *progressLog) Aborted() {
	logger.Warn().Msg("Run aborted")
}

func (p *progressLog) Finished(run *data.Run) {
	event := logger.Info()
	if err := run.Err(); err != nil && run.Status() == data.RunFailed {
		event = logger.Error().Err(err)
	}
	event.
		Str("run", run.ID.String()).
		Str("status", string(run.Status())).
		Int("atoms", len(run.Atoms())).
		Msg("Run finished")
}
