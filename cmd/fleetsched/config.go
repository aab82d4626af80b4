package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envTicks         = "FLEETSCHED_TICKS"
	envLogsDir       = "FLEETSCHED_LOGS_DIR"
	envCapacity      = "FLEETSCHED_CAPACITY_PER_UNIT"
	envInitialFaults = "FLEETSCHED_INITIAL_FAULTS"
	envHTTPBind      = "HTTP_ADDR"
	envTimeout       = "FLEETSCHED_TIMEOUT"
	envSummaryEvery  = "FLEETSCHED_SUMMARY_EVERY"

	defaultTicks   = 200
	defaultLogsDir = "runner_logs"
)

type runtimeConfig struct {
	Ticks           int
	LogsDir         string
	CapacityPerUnit int
	InitialFaults   int
	HTTPBind        string
	Timeout         time.Duration
	SummaryEvery    int
}

type fileConfig struct {
	Ticks           *int           `yaml:"ticks"`
	LogsDir         *string        `yaml:"logsDir"`
	CapacityPerUnit *int           `yaml:"capacityPerUnit"`
	InitialFaults   *int           `yaml:"initialFaults"`
	HTTPBind        *string        `yaml:"httpBind"`
	Timeout         *time.Duration `yaml:"timeout"`
	SummaryEvery    *int           `yaml:"summaryEvery"`
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Ticks:   defaultTicks,
		LogsDir: defaultLogsDir,
	}
}

func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		applyEnvOverrides(&cfg)

		return cfg, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return runtimeConfig{}, fmt.Errorf("read config file %q: %w", trimmed, err)
		}
	} else {
		var fileCfg fileConfig

		err := yaml.Unmarshal(data, &fileCfg)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("decode config file %q: %w", trimmed, err)
		}

		assignInt(&cfg.Ticks, fileCfg.Ticks)
		assignString(&cfg.LogsDir, fileCfg.LogsDir)
		assignInt(&cfg.CapacityPerUnit, fileCfg.CapacityPerUnit)
		assignInt(&cfg.InitialFaults, fileCfg.InitialFaults)
		assignString(&cfg.HTTPBind, fileCfg.HTTPBind)
		assignDuration(&cfg.Timeout, fileCfg.Timeout)
		assignInt(&cfg.SummaryEvery, fileCfg.SummaryEvery)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *runtimeConfig) {
	cfg.Ticks = envInt(envTicks, cfg.Ticks)
	cfg.LogsDir = envString(envLogsDir, cfg.LogsDir)
	cfg.CapacityPerUnit = envInt(envCapacity, cfg.CapacityPerUnit)
	cfg.InitialFaults = envInt(envInitialFaults, cfg.InitialFaults)
	cfg.HTTPBind = envString(envHTTPBind, cfg.HTTPBind)
	cfg.Timeout = envDuration(envTimeout, cfg.Timeout)
	cfg.SummaryEvery = envInt(envSummaryEvery, cfg.SummaryEvery)
}

func normalizeRuntimeConfig(cfg *runtimeConfig) {
	if cfg.Ticks <= 0 {
		cfg.Ticks = defaultTicks
	}

	if strings.TrimSpace(cfg.LogsDir) == "" {
		cfg.LogsDir = defaultLogsDir
	}

	if cfg.InitialFaults < 0 {
		cfg.InitialFaults = 0
	}

	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func assignInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func assignString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func assignDuration(target *time.Duration, value *time.Duration) {
	if value != nil {
		*target = *value
	}
}

func envInt(key string, fallback int) int {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}

	return parsed
}

func envString(key, fallback string) string {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	return trimmed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	duration, err := time.ParseDuration(trimmed)
	if err != nil {
		return fallback
	}

	return duration
}
