//nolint:testpackage // tests exercise internal helpers for coverage
package sched

import (
	"math"
	"testing"
)

func energyConfig() Config {
	return Config{
		Domains:              []string{"a", "b", "rest"},
		Units:                []string{"u1", "u2", "u3"},
		Required:             map[string]int{"a": 1, "b": 1},
		UniversalRoles:       true,
		Weights:              map[string]float64{"a": 1, "b": 3, "rest": 2},
		TickMS:               1.0,
		MaxGapTicks:          10,
		CapacityPerUnit:      2,
		BatteryLifeMS:        1000,
		StrictMissionFailure: true,
	}
}

func TestDrainPerRole(t *testing.T) {
	t.Parallel()

	s, err := New(energyConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 100% over 1000ms of life at 1ms ticks.
	if got := s.drainPerRole(); got != 0.1 {
		t.Fatalf("expected base drain 0.1, got %v", got)
	}
}

func TestApplyEnergyWeightedDrainAndRecharge(t *testing.T) {
	t.Parallel()

	s, err := New(energyConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick = 1
	s.batteryPct["u2"] = 50

	st := &tickState{
		alive: allAlive("u1", "u2", "u3"),
		used:  map[string]int{"u1": 2},
		assignMap: map[string][]string{
			"a": {"u1"},
			"b": {"u1"},
		},
	}
	st.alive["u3"] = false

	s.applyEnergy(st)

	const tolerance = 1e-9

	// u1 holds both roles: base * (weight a + weight b) = 0.1 * 4.
	if got := s.batteryPct["u1"]; math.Abs(got-99.6) > tolerance {
		t.Fatalf("expected u1 at 99.6, got %v", got)
	}

	// u2 rests: 0.5 * base * rest weight = 0.1 recharge.
	if got := s.batteryPct["u2"]; math.Abs(got-50.1) > tolerance {
		t.Fatalf("expected u2 at 50.1, got %v", got)
	}

	// u3 is down: no battery movement.
	if got := s.batteryPct["u3"]; got != 100 {
		t.Fatalf("expected u3 untouched at 100, got %v", got)
	}
}

func TestApplyEnergyClampsRechargeAtFull(t *testing.T) {
	t.Parallel()

	s, err := New(energyConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick = 1
	s.batteryPct["u1"] = 99.99

	st := &tickState{
		alive:     allAlive("u1", "u2", "u3"),
		used:      make(map[string]int),
		assignMap: make(map[string][]string),
	}

	s.applyEnergy(st)

	if got := s.batteryPct["u1"]; got != 100 {
		t.Fatalf("expected clamp at 100, got %v", got)
	}
}

func TestApplyEnergyZeroCrossingKillsOnce(t *testing.T) {
	t.Parallel()

	rec := &captureRecorder{}

	s, err := New(energyConfig(), rec, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick = 7
	s.batteryPct["u1"] = 0.05

	st := &tickState{
		alive:     allAlive("u1", "u2", "u3"),
		used:      map[string]int{"u1": 1},
		assignMap: map[string][]string{"a": {"u1"}},
	}

	s.applyEnergy(st)

	if got := s.batteryPct["u1"]; got != 0 {
		t.Fatalf("expected battery clamped to 0, got %v", got)
	}

	if !s.dead["u1"] {
		t.Fatal("expected u1 to be marked dead")
	}

	if s.firstDeadTick != 7 {
		t.Fatalf("expected first death at tick 7, got %d", s.firstDeadTick)
	}

	// A dead unit never recharges, even when resting and alive.
	s.tick = 8

	st = &tickState{
		alive:     allAlive("u1", "u2", "u3"),
		used:      make(map[string]int),
		assignMap: make(map[string][]string),
	}

	s.applyEnergy(st)

	if got := s.batteryPct["u1"]; got != 0 {
		t.Fatalf("expected dead unit to stay at 0, got %v", got)
	}

	deadEvents := rec.eventsOfKind(EventBatteryDead)
	if len(deadEvents) != 1 || deadEvents[0].tick != 7 {
		t.Fatalf("expected a single battery_dead at tick 7, got %v", deadEvents)
	}
}
