// Package main wires the headless mission driver CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleet-coverage-scheduler/internal/buildinfo"
	"fleet-coverage-scheduler/pkg/drive"
	httpmetrics "fleet-coverage-scheduler/pkg/http/metrics"
	httpstatus "fleet-coverage-scheduler/pkg/http/status"
	"fleet-coverage-scheduler/pkg/mission"
	"fleet-coverage-scheduler/pkg/sched"
	"fleet-coverage-scheduler/pkg/sink"
)

const (
	defaultLogLevel = "info"

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

var errMissionRequired = errors.New("a mission manifest path is required")

func main() {
	code := run(context.Background(), os.Args[1:], defaultRunDeps(), os.Stdout, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

type runDeps struct {
	newLogger   func(level string) (*zap.Logger, error)
	newRecorder func(dir string, domains []string, logger *zap.Logger) (sched.Recorder, error)
}

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:   newLogger,
		newRecorder: defaultRecorderFactory,
	}
}

func run(ctx context.Context, args []string, deps runDeps, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)

		return exitCodeParseError
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err)

		return exitCodeRuntimeError
	}

	defer func() {
		_ = logger.Sync()
	}()

	info := buildinfo.Current()
	logger.Info("starting fleet-coverage-scheduler",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("mission", opts.missionPath),
		zap.String("logsDir", opts.runtime.LogsDir),
		zap.Int("ticks", opts.runtime.Ticks),
	)

	result, err := runMission(ctx, opts, deps, logger)
	if err != nil {
		logger.Error("mission run aborted", zap.Error(err))

		return exitCodeRuntimeError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error("encode result", zap.Error(err))

		return exitCodeRuntimeError
	}

	fmt.Fprintf(stdout, "%s\n", payload)

	if result.Status != drive.StatusPass {
		return exitCodeRuntimeError
	}

	return exitCodeSuccess
}

func runMission(ctx context.Context, opts options, deps runDeps, logger *zap.Logger) (drive.Result, error) {
	manifest, err := mission.Load(opts.missionPath)
	if err != nil {
		return drive.Result{}, err
	}

	err = manifest.Validate()
	if err != nil {
		return drive.Result{}, fmt.Errorf("invalid mission %q: %w", opts.missionPath, err)
	}

	recorder, err := deps.newRecorder(opts.runtime.LogsDir, manifest.Domains, logger)
	if err != nil {
		return drive.Result{}, err
	}

	scheduler, err := sched.New(manifest.SchedulerConfig(opts.runtime.CapacityPerUnit), recorder, logger)
	if err != nil {
		return drive.Result{}, fmt.Errorf("build scheduler: %w", err)
	}

	defer func() {
		closeErr := scheduler.Close()
		if closeErr != nil {
			logger.Warn("close scheduler", zap.Error(closeErr))
		}
	}()

	timeline := drive.NewFailureTimeline(manifest.Units, manifest.FailureInjections, opts.runtime.InitialFaults)
	runner := drive.NewRunner(scheduler, timeline, logger)
	runner.SummaryEvery = opts.runtime.SummaryEvery

	shutdownHTTP := startHTTP(opts.runtime.HTTPBind, runner, logger)
	defer shutdownHTTP()

	if opts.runtime.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, opts.runtime.Timeout)
		defer cancel()
	}

	result, err := runner.Run(ctx, opts.runtime.Ticks)
	if err != nil {
		return result, err
	}

	result.LogsDir = opts.runtime.LogsDir
	result.InitialFaults = opts.runtime.InitialFaults

	return result, nil
}

// startHTTP mounts the status and metrics surfaces when a bind address is
// configured. The returned func stops the listener.
func startHTTP(bind string, runner *drive.Runner, logger *zap.Logger) func() {
	if bind == "" {
		return func() {}
	}

	statusHandler := httpstatus.NewHandler()
	exporter := httpmetrics.NewExporter()

	runner.Publish = func(snapshot sched.Snapshot) {
		statusHandler.Publish(snapshot)
		exporter.Publish(snapshot)
	}

	mux := http.NewServeMux()
	mux.Handle("/status", statusHandler)
	mux.Handle("/metrics", exporter)

	server := &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server stopped", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	err := cfg.Level.UnmarshalText([]byte(level))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

//nolint:ireturn // factory returns the recorder interface to support test doubles
func defaultRecorderFactory(dir string, domains []string, logger *zap.Logger) (sched.Recorder, error) {
	recorder, err := sink.New(dir, domains, logger)
	if err != nil {
		return nil, fmt.Errorf("open sinks: %w", err)
	}

	return recorder, nil
}

type options struct {
	missionPath string
	logLevel    string
	configPath  string
	runtime     runtimeConfig
}

func parseArgs(args []string) (options, error) {
	var opts options

	flagSet := flag.NewFlagSet("fleetsched", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	flagSet.StringVar(&opts.missionPath, "mission", "", "Path to the mission manifest (JSON or YAML)")
	flagSet.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")
	flagSet.StringVar(&opts.configPath, "config", "", "Path to the optional runtime configuration file")

	ticks := flagSet.Int("ticks", 0, "Number of ticks to run")
	logsDir := flagSet.String("logs-dir", "", "Directory receiving the observability streams")
	capacity := flagSet.Int("capacity", 0, "Per-unit assignment capacity per tick")
	initialFaults := flagSet.Int("initial-faults", -1, "Permanent faults applied to the leading units")
	httpBind := flagSet.String("http", "", "Bind address for the status/metrics surface (empty disables)")
	timeout := flagSet.Duration("timeout", 0, "Wall-clock limit for the whole run (0 disables)")
	summaryEvery := flagSet.Int("summary-every", 0, "Rewrite summary.json every N ticks while running (0 disables)")

	err := flagSet.Parse(args)
	if err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.runtime, err = loadRuntimeConfig(opts.configPath)
	if err != nil {
		return options{}, err
	}

	// Explicit flags win over file and environment.
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ticks":
			opts.runtime.Ticks = *ticks
		case "logs-dir":
			opts.runtime.LogsDir = *logsDir
		case "capacity":
			opts.runtime.CapacityPerUnit = *capacity
		case "initial-faults":
			opts.runtime.InitialFaults = *initialFaults
		case "http":
			opts.runtime.HTTPBind = *httpBind
		case "timeout":
			opts.runtime.Timeout = *timeout
		case "summary-every":
			opts.runtime.SummaryEvery = *summaryEvery
		}
	})

	opts.missionPath = strings.TrimSpace(opts.missionPath)
	if opts.missionPath == "" {
		return options{}, errMissionRequired
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	normalizeRuntimeConfig(&opts.runtime)

	return opts, nil
}

var errInvalidLogLevel = errors.New("invalid log level")
