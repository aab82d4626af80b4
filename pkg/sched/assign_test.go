//nolint:testpackage // tests exercise internal helpers for coverage
package sched

import (
	"reflect"
	"testing"
)

func orderingConfig() Config {
	return Config{
		Domains:              []string{"radar", "comm", "net", "rest"},
		Units:                []string{"u1", "u2", "u3", "u4"},
		Required:             map[string]int{"radar": 1, "comm": 1, "net": 1},
		UniversalRoles:       true,
		TickMS:               1.0,
		MaxGapTicks:          10,
		CapacityPerUnit:      1,
		StrictMissionFailure: true,
	}
}

func TestOrderedDomainsEarliestDeadlineFirst(t *testing.T) {
	t.Parallel()

	s, err := New(orderingConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick = 9
	s.lastService["radar"] = 8
	s.lastService["comm"] = 2
	s.lastService["net"] = 5

	want := []string{"comm", "net", "radar"}
	if got := s.orderedDomains(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
}

func TestOrderedDomainsBreaksTiesByName(t *testing.T) {
	t.Parallel()

	s, err := New(orderingConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []string{"comm", "net", "radar"}
	if got := s.orderedDomains(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected lexicographic order %v, got %v", want, got)
	}
}

func TestKeepCandidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		battery    float64
		dwellTicks int
		active     int
		rotation   bool
		incumbent  bool
		want       bool
	}{
		{
			name:      "incumbent above swap threshold keeps",
			battery:   50,
			active:    1,
			incumbent: true,
			want:      true,
		},
		{
			name:      "rotation boundary suppresses keep",
			battery:   50,
			active:    1,
			rotation:  true,
			incumbent: true,
			want:      false,
		},
		{
			name:      "non-incumbent never keeps",
			battery:   50,
			active:    1,
			incumbent: false,
			want:      false,
		},
		{
			name:      "incumbent below swap threshold is swappable",
			battery:   5,
			active:    1,
			incumbent: true,
			want:      false,
		},
		{
			name:       "dwell forces keep at moderate battery",
			battery:    12,
			dwellTicks: 10,
			active:     3,
			incumbent:  true,
			want:       true,
		},
		{
			name:       "dwell yields to critical battery",
			battery:    5,
			dwellTicks: 10,
			active:     3,
			incumbent:  true,
			want:       false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := singleDomainConfig()
			cfg.MinDwellTicks = tc.dwellTicks

			s, err := New(cfg, nil, nil)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			s.tick = 4
			s.batteryPct["u1"] = tc.battery
			s.activeSince["u1"] = tc.active
			s.restSince["u1"] = -1

			if tc.incumbent {
				s.prevAssign["radar"] = []string{"u1"}
			}

			if got := s.keepCandidate("u1", "radar", tc.rotation); got != tc.want {
				t.Fatalf("keepCandidate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCooldownAgeNorm(t *testing.T) {
	t.Parallel()

	cfg := singleDomainConfig()
	cfg.RotationPeriodMS = 10

	s, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick = 20

	const tolerance = 1e-9

	// Never assigned: maximum age.
	if got := s.cooldownAgeNorm("u1"); got != 1 {
		t.Fatalf("expected 1 for never-assigned unit, got %v", got)
	}

	s.lastAssign["u1"] = 15
	if got := s.cooldownAgeNorm("u1"); got < 0.5-tolerance || got > 0.5+tolerance {
		t.Fatalf("expected 0.5, got %v", got)
	}

	// Age caps at the rotation period.
	s.lastAssign["u1"] = 2
	if got := s.cooldownAgeNorm("u1"); got != 1 {
		t.Fatalf("expected capped norm 1, got %v", got)
	}
}

func TestFreshFleetCandidatesScoreEqually(t *testing.T) {
	t.Parallel()

	s, err := New(orderingConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.tick = 1

	st := &tickState{
		alive:     allAlive("u1", "u2", "u3", "u4"),
		used:      make(map[string]int),
		assignMap: make(map[string][]string),
	}

	candidates := s.tierCandidates(st, "radar", tierFresh)
	if len(candidates) != 4 {
		t.Fatalf("expected all four candidates, got %v", candidates)
	}

	for i := 1; i < len(candidates); i++ {
		if candidates[i-1].score != candidates[i].score {
			t.Fatalf("expected identical scores for a fresh fleet, got %v", candidates)
		}
	}
}

func TestHysteresisGateRespectsThreshold(t *testing.T) {
	t.Parallel()

	s, err := New(singleDomainConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Default wake threshold: (0.15 + 0.08) * 100.
	s.batteryPct["u1"] = 22.9
	if !s.hysteresisGated("u1") {
		t.Fatal("expected resting unit below threshold to be gated")
	}

	s.batteryPct["u1"] = 23.0
	if s.hysteresisGated("u1") {
		t.Fatal("expected resting unit at threshold to pass the gate")
	}

	// Active units are never gated.
	s.batteryPct["u1"] = 1.0
	s.activeSince["u1"] = 1

	if s.hysteresisGated("u1") {
		t.Fatal("expected active unit to bypass the gate")
	}
}

func TestAssignableCountIgnoresGateCountsFaults(t *testing.T) {
	t.Parallel()

	s, err := New(orderingConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	alive := allAlive("u1", "u2", "u3", "u4")
	alive["u4"] = false

	// Resting below the wake threshold still counts: the gate is
	// overridable, the fleet supply is real.
	s.batteryPct["u1"] = 5

	if got := s.assignableCount(alive); got != 3 {
		t.Fatalf("expected 3 assignable units, got %d", got)
	}

	// A unit faulted on every coverage domain does not count.
	for _, d := range []string{"radar", "comm", "net"} {
		err := s.SetDomainFault("u3", d, 0, true)
		if err != nil {
			t.Fatalf("SetDomainFault: %v", err)
		}
	}

	if got := s.assignableCount(alive); got != 2 {
		t.Fatalf("expected 2 assignable units after faults, got %d", got)
	}
}
