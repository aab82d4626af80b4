package mission_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fleet-coverage-scheduler/pkg/mission"
)

const missionJSON = `{
  "tick_ms": 1.0,
  "constraints": {"max_gap_ms": 10},
  "domains": ["radar", "comm", "rest"],
  "units": ["u1", "u2", "u3"],
  "required_active_per_domain": {"radar": 1, "comm": 1},
  "universal_roles": true,
  "domain_weights": {"radar": 1.5, "rest": 2.0},
  "rotation": {"rest_duration_ms": 20, "min_dwell_ms": 5},
  "failure_injections": [
    {"type": "unit_crash", "unit": "u2", "at_ms": 30, "duration_ms": 10}
  ],
  "battery_life_ms": 420000,
  "sample_every_ticks": 25
}`

const missionYAML = `tick_ms: 2.0
constraints:
  max_gap_ms: 15
domains: [radar, rest]
units: [u1, u2]
required_active_per_domain: 1
universal_roles: true
`

func writeMission(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)

	err := os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("write mission: %v", err)
	}

	return path
}

func TestLoadJSONManifest(t *testing.T) {
	t.Parallel()

	manifest, err := mission.Load(writeMission(t, "mission_a.json", missionJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	err = manifest.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if manifest.TickMS != 1.0 {
		t.Fatalf("unexpected tick_ms: %v", manifest.TickMS)
	}

	required := manifest.RequiredMap()
	if required["radar"] != 1 || required["comm"] != 1 || required["rest"] != 0 {
		t.Fatalf("unexpected required map: %v", required)
	}

	if len(manifest.FailureInjections) != 1 || manifest.FailureInjections[0].Unit != "u2" {
		t.Fatalf("unexpected injections: %v", manifest.FailureInjections)
	}
}

func TestLoadYAMLManifestWithScalarRequirement(t *testing.T) {
	t.Parallel()

	manifest, err := mission.Load(writeMission(t, "mission_b.yaml", missionYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	err = manifest.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	required := manifest.RequiredMap()
	if required["radar"] != 1 || required["rest"] != 0 {
		t.Fatalf("unexpected required map: %v", required)
	}
}

func TestRequiredMapDefaultsToOnePerDomain(t *testing.T) {
	t.Parallel()

	manifest := &mission.Manifest{
		TickMS:      1.0,
		Constraints: mission.Constraints{MaxGapMS: 10},
		Domains:     []string{"radar", "comm", "rest"},
		Units:       []string{"u1"},
	}

	required := manifest.RequiredMap()
	if required["radar"] != 1 || required["comm"] != 1 || required["rest"] != 0 {
		t.Fatalf("unexpected default required map: %v", required)
	}
}

func TestRequiredMapMissingKeysDefaultToZero(t *testing.T) {
	t.Parallel()

	manifest := &mission.Manifest{
		Domains: []string{"radar", "comm", "rest"},
		RequiredActivePerDomain: &mission.RequiredSpec{
			PerDomain: map[string]int{"radar": 2},
		},
	}

	required := manifest.RequiredMap()
	if required["radar"] != 2 || required["comm"] != 0 {
		t.Fatalf("unexpected required map: %v", required)
	}
}

func TestValidateRejectsBrokenManifests(t *testing.T) {
	t.Parallel()

	base := func() *mission.Manifest {
		return &mission.Manifest{
			TickMS:      1.0,
			Constraints: mission.Constraints{MaxGapMS: 10},
			Domains:     []string{"radar", "rest"},
			Units:       []string{"u1", "u2"},
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*mission.Manifest)
		wantErr error
	}{
		{
			name:    "zero tick",
			mutate:  func(m *mission.Manifest) { m.TickMS = 0 },
			wantErr: mission.ErrMissingTick,
		},
		{
			name:    "zero gap",
			mutate:  func(m *mission.Manifest) { m.Constraints.MaxGapMS = 0 },
			wantErr: mission.ErrMissingGap,
		},
		{
			name:    "no rest domain",
			mutate:  func(m *mission.Manifest) { m.Domains = []string{"radar"} },
			wantErr: mission.ErrMissingRest,
		},
		{
			name: "negative requirement",
			mutate: func(m *mission.Manifest) {
				n := -1
				m.RequiredActivePerDomain = &mission.RequiredSpec{Scalar: &n}
			},
			wantErr: mission.ErrNegativeRequired,
		},
		{
			name: "unknown pool unit",
			mutate: func(m *mission.Manifest) {
				m.DomainPools = map[string][]string{"radar": {"ghost"}}
			},
			wantErr: mission.ErrUnknownUnit,
		},
		{
			name: "unknown injection unit",
			mutate: func(m *mission.Manifest) {
				m.FailureInjections = []mission.Injection{{Type: "unit_crash", Unit: "ghost"}}
			},
			wantErr: mission.ErrUnknownUnit,
		},
		{
			name: "bad weight",
			mutate: func(m *mission.Manifest) {
				m.DomainWeights = map[string]float64{"radar": -1}
			},
			wantErr: mission.ErrBadWeight,
		},
		{
			name:    "duplicate unit",
			mutate:  func(m *mission.Manifest) { m.Units = []string{"u1", "u1"} },
			wantErr: mission.ErrDuplicateUnit,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			manifest := base()
			tc.mutate(manifest)

			err := manifest.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestGapAndDwellTickConversion(t *testing.T) {
	t.Parallel()

	manifest := &mission.Manifest{
		TickMS:      3.0,
		Constraints: mission.Constraints{MaxGapMS: 10},
		Rotation:    &mission.Rotation{MinDwellMS: 7},
	}

	// 10 / 3 rounds up to 4 so the window never shrinks.
	if got := manifest.MaxGapTicks(); got != 4 {
		t.Fatalf("expected 4 gap ticks, got %d", got)
	}

	// 7 / 3 rounds to nearest: 2.
	if got := manifest.MinDwellTicks(); got != 2 {
		t.Fatalf("expected 2 dwell ticks, got %d", got)
	}
}

func TestSchedulerConfigResolvesWakeThreshold(t *testing.T) {
	t.Parallel()

	manifest, err := mission.Load(writeMission(t, "mission_c.json", missionJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := manifest.SchedulerConfig(2)

	// Default reserve 0.15 plus hysteresis 0.08, in percentage points.
	if cfg.WakeThresholdPct != 23 {
		t.Fatalf("expected wake threshold 23, got %v", cfg.WakeThresholdPct)
	}

	if cfg.RotationPeriodMS != 20 || cfg.MinDwellTicks != 5 {
		t.Fatalf("unexpected rotation settings: %v %v", cfg.RotationPeriodMS, cfg.MinDwellTicks)
	}

	if !cfg.StrictMissionFailure {
		t.Fatal("expected strict mode on by default")
	}

	override := 40.0
	manifest.WakeThresholdPct = &override

	if got := manifest.SchedulerConfig(2).WakeThresholdPct; got != 40 {
		t.Fatalf("expected override 40, got %v", got)
	}

	reserve, hysteresis := 0.2, 0.1
	manifest.WakeThresholdPct = nil
	manifest.BatteryReservePct = &reserve
	manifest.HysteresisPct = &hysteresis

	got := manifest.SchedulerConfig(2).WakeThresholdPct
	if got < 29.999 || got > 30.001 {
		t.Fatalf("expected derived threshold 30, got %v", got)
	}
}

func TestCheckFeasibility(t *testing.T) {
	t.Parallel()

	manifest := &mission.Manifest{
		TickMS:      1.0,
		Constraints: mission.Constraints{MaxGapMS: 10},
		Domains:     []string{"radar", "comm", "rest"},
		Units:       []string{"u1", "u2", "u3", "u4"},
		RequiredActivePerDomain: &mission.RequiredSpec{
			PerDomain: map[string]int{"radar": 1, "comm": 1},
		},
		UniversalRoles: true,
	}

	feas := manifest.CheckFeasibility(1)

	if !feas.Feasible {
		t.Fatalf("expected feasible mission, got %+v", feas)
	}

	// Two roles across four units at capacity 1: two faults survivable.
	if feas.Fmax != 2 {
		t.Fatalf("expected fmax 2, got %d", feas.Fmax)
	}
}

func TestCheckFeasibilityPoolShortage(t *testing.T) {
	t.Parallel()

	manifest := &mission.Manifest{
		TickMS:      1.0,
		Constraints: mission.Constraints{MaxGapMS: 10},
		Domains:     []string{"radar", "rest"},
		Units:       []string{"u1", "u2"},
		RequiredActivePerDomain: &mission.RequiredSpec{
			PerDomain: map[string]int{"radar": 2},
		},
		DomainPools: map[string][]string{"radar": {"u1"}},
	}

	feas := manifest.CheckFeasibility(2)
	if feas.Feasible {
		t.Fatalf("expected pool shortage to be infeasible, got %+v", feas)
	}
}
