// Package mission loads and validates mission manifests and turns them
// into scheduler configuration.
package mission

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fleet-coverage-scheduler/pkg/sched"
)

var (
	ErrMissingTick        = errors.New("mission: tick_ms must be positive")
	ErrMissingGap         = errors.New("mission: constraints.max_gap_ms must be positive")
	ErrNoDomains          = errors.New("mission: at least one domain is required")
	ErrNoUnits            = errors.New("mission: at least one unit is required")
	ErrMissingRest        = errors.New("mission: domains must include a rest member")
	ErrNegativeRequired   = errors.New("mission: required_active_per_domain must be non-negative")
	ErrUnknownUnit        = errors.New("mission: unknown unit")
	ErrUnknownDomain      = errors.New("mission: unknown domain")
	ErrBadWeight          = errors.New("mission: domain weight must be positive")
	ErrBadRotation        = errors.New("mission: invalid rotation settings")
	ErrBadRequiredSpec    = errors.New("mission: required_active_per_domain must be an integer or a map")
	ErrBadInjection       = errors.New("mission: invalid failure injection")
	ErrDuplicateDomain    = errors.New("mission: duplicate domain")
	ErrDuplicateUnit      = errors.New("mission: duplicate unit")
)

// Constraints carries the hard gap window of the mission.
type Constraints struct {
	MaxGapMS float64 `json:"max_gap_ms" yaml:"max_gap_ms"`
}

// Rotation configures the rotation cadence and the minimum dwell window.
type Rotation struct {
	RestDurationMS float64 `json:"rest_duration_ms" yaml:"rest_duration_ms"`
	MinDwellMS     float64 `json:"min_dwell_ms" yaml:"min_dwell_ms"`
}

// Injection is one scripted liveness fault applied by the driver.
type Injection struct {
	Type       string  `json:"type" yaml:"type"`
	Unit       string  `json:"unit" yaml:"unit"`
	AtMS       float64 `json:"at_ms" yaml:"at_ms"`
	DurationMS float64 `json:"duration_ms" yaml:"duration_ms"`
	Permanent  bool    `json:"permanent" yaml:"permanent"`
}

// RequiredSpec accepts the two manifest spellings of the staffing
// requirement: a scalar applied to every non-rest domain, or a per-domain
// map with missing keys defaulting to zero.
type RequiredSpec struct {
	Scalar    *int
	PerDomain map[string]int
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RequiredSpec) UnmarshalJSON(data []byte) error {
	var scalar int
	if err := json.Unmarshal(data, &scalar); err == nil {
		r.Scalar = &scalar
		r.PerDomain = nil

		return nil
	}

	var perDomain map[string]int

	err := json.Unmarshal(data, &perDomain)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadRequiredSpec, strings.TrimSpace(string(data)))
	}

	r.Scalar = nil
	r.PerDomain = perDomain

	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *RequiredSpec) UnmarshalYAML(value *yaml.Node) error {
	var scalar int
	if err := value.Decode(&scalar); err == nil {
		r.Scalar = &scalar
		r.PerDomain = nil

		return nil
	}

	var perDomain map[string]int

	err := value.Decode(&perDomain)
	if err != nil {
		return fmt.Errorf("%w: line %d", ErrBadRequiredSpec, value.Line)
	}

	r.Scalar = nil
	r.PerDomain = perDomain

	return nil
}

// Manifest mirrors the mission file. Optional tuning knobs are pointers so
// absent keys fall back to documented defaults during normalisation.
type Manifest struct {
	TickMS      float64     `json:"tick_ms" yaml:"tick_ms"`
	Constraints Constraints `json:"constraints" yaml:"constraints"`

	Domains []string `json:"domains" yaml:"domains"`
	Units   []string `json:"units" yaml:"units"`

	RequiredActivePerDomain *RequiredSpec       `json:"required_active_per_domain" yaml:"required_active_per_domain"`
	DomainPools             map[string][]string `json:"domain_pools" yaml:"domain_pools"`
	UniversalRoles          bool                `json:"universal_roles" yaml:"universal_roles"`
	DomainWeights           map[string]float64  `json:"domain_weights" yaml:"domain_weights"`

	Rotation          *Rotation   `json:"rotation" yaml:"rotation"`
	FailureInjections []Injection `json:"failure_injections" yaml:"failure_injections"`

	SwapThresholdPct       *float64 `json:"swap_threshold_pct" yaml:"swap_threshold_pct"`
	BatteryReservePct      *float64 `json:"battery_reserve_pct" yaml:"battery_reserve_pct"`
	HysteresisPct          *float64 `json:"hysteresis_pct" yaml:"hysteresis_pct"`
	WakeThresholdPct       *float64 `json:"wake_threshold_pct" yaml:"wake_threshold_pct"`
	BatteryLifeMS          *float64 `json:"battery_life_ms" yaml:"battery_life_ms"`
	SampleEveryTicks       *int     `json:"sample_every_ticks" yaml:"sample_every_ticks"`
	LowBatteryEventEveryMS *float64 `json:"low_battery_event_every_ms" yaml:"low_battery_event_every_ms"`
	StrictMissionFailure   *bool    `json:"strict_mission_failure" yaml:"strict_mission_failure"`
}

// Load reads and decodes a manifest. Files ending in .json decode as JSON;
// anything else decodes as YAML (which also accepts JSON documents).
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mission %q: %w", path, err)
	}

	var manifest Manifest

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &manifest)
	} else {
		err = yaml.Unmarshal(data, &manifest)
	}

	if err != nil {
		return nil, fmt.Errorf("decode mission %q: %w", path, err)
	}

	return &manifest, nil
}

// RestDomain returns the manifest's rest member (matched
// case-insensitively) or an empty string when it is missing.
func (m *Manifest) RestDomain() string {
	for _, d := range m.Domains {
		if strings.EqualFold(d, "rest") {
			return d
		}
	}

	return ""
}

// RequiredMap normalises the staffing requirement into a complete
// per-domain map. Scalars apply to every non-rest domain; map spellings
// default missing domains to zero; the rest domain is always zero. The
// default when the key is absent entirely is one unit per domain.
func (m *Manifest) RequiredMap() map[string]int {
	required := make(map[string]int, len(m.Domains))
	rest := m.RestDomain()

	spec := m.RequiredActivePerDomain

	for _, d := range m.Domains {
		if d == rest {
			required[d] = 0
			continue
		}

		switch {
		case spec == nil:
			required[d] = 1
		case spec.Scalar != nil:
			required[d] = *spec.Scalar
		default:
			required[d] = spec.PerDomain[d]
		}
	}

	return required
}

// Validate checks every configuration-error condition: the scheduler must
// never be constructed from a manifest this rejects.
func (m *Manifest) Validate() error {
	if m.TickMS <= 0 {
		return ErrMissingTick
	}

	if m.Constraints.MaxGapMS <= 0 {
		return ErrMissingGap
	}

	if len(m.Domains) == 0 {
		return ErrNoDomains
	}

	if len(m.Units) == 0 {
		return ErrNoUnits
	}

	if m.RestDomain() == "" {
		return ErrMissingRest
	}

	seenDomains := make(map[string]bool, len(m.Domains))
	for _, d := range m.Domains {
		if seenDomains[d] {
			return fmt.Errorf("%w: %q", ErrDuplicateDomain, d)
		}

		seenDomains[d] = true
	}

	seenUnits := make(map[string]bool, len(m.Units))
	for _, u := range m.Units {
		if seenUnits[u] {
			return fmt.Errorf("%w: %q", ErrDuplicateUnit, u)
		}

		seenUnits[u] = true
	}

	if spec := m.RequiredActivePerDomain; spec != nil {
		if spec.Scalar != nil && *spec.Scalar < 0 {
			return fmt.Errorf("%w: %d", ErrNegativeRequired, *spec.Scalar)
		}

		for d, n := range spec.PerDomain {
			if n < 0 {
				return fmt.Errorf("%w: domain %q requires %d", ErrNegativeRequired, d, n)
			}

			if !seenDomains[d] {
				return fmt.Errorf("%w: requirement for %q", ErrUnknownDomain, d)
			}
		}
	}

	for d, pool := range m.DomainPools {
		if d != "spares" && !seenDomains[d] {
			return fmt.Errorf("%w: pool for %q", ErrUnknownDomain, d)
		}

		for _, u := range pool {
			if !seenUnits[u] {
				return fmt.Errorf("%w: %q in pool %q", ErrUnknownUnit, u, d)
			}
		}
	}

	for d, w := range m.DomainWeights {
		if !seenDomains[d] {
			return fmt.Errorf("%w: weight for %q", ErrUnknownDomain, d)
		}

		if w <= 0 {
			return fmt.Errorf("%w: domain %q weight %v", ErrBadWeight, d, w)
		}
	}

	if rot := m.Rotation; rot != nil {
		if rot.RestDurationMS < 0 || rot.MinDwellMS < 0 {
			return fmt.Errorf("%w: durations must be non-negative", ErrBadRotation)
		}
	}

	for i, inj := range m.FailureInjections {
		if inj.Unit == "" || !seenUnits[inj.Unit] {
			return fmt.Errorf("%w: injection %d references %q: %w", ErrBadInjection, i, inj.Unit, ErrUnknownUnit)
		}

		if inj.Type == "" {
			return fmt.Errorf("%w: injection %d has no type", ErrBadInjection, i)
		}
	}

	return nil
}

// MaxGapTicks converts the gap window into ticks, rounding up so the
// window never shrinks below the configured milliseconds.
func (m *Manifest) MaxGapTicks() int {
	ticks := int(math.Ceil(m.Constraints.MaxGapMS / m.TickMS))
	if ticks < 1 {
		ticks = 1
	}

	return ticks
}

// MinDwellTicks converts the dwell window into ticks by rounding.
func (m *Manifest) MinDwellTicks() int {
	if m.Rotation == nil {
		return 0
	}

	return int(math.Round(m.Rotation.MinDwellMS / m.TickMS))
}

// SchedulerConfig assembles the normalised sched.Config for this manifest.
// Validate must have passed; capacityPerUnit comes from the driver surface
// and falls back to the scheduler default when non-positive.
func (m *Manifest) SchedulerConfig(capacityPerUnit int) sched.Config {
	cfg := sched.Config{
		Domains:         append([]string(nil), m.Domains...),
		Units:           append([]string(nil), m.Units...),
		Required:        m.RequiredMap(),
		Pools:           m.DomainPools,
		Weights:         copyWeights(m.DomainWeights),
		UniversalRoles:  m.UniversalRoles,
		TickMS:          m.TickMS,
		MaxGapTicks:     m.MaxGapTicks(),
		CapacityPerUnit: capacityPerUnit,
		MinDwellTicks:   m.MinDwellTicks(),

		StrictMissionFailure: true,
	}

	if m.Rotation != nil {
		cfg.RotationPeriodMS = m.Rotation.RestDurationMS
	}

	if m.SwapThresholdPct != nil {
		cfg.SwapThresholdPct = *m.SwapThresholdPct
	}

	cfg.WakeThresholdPct = m.wakeThresholdPct()

	if m.BatteryLifeMS != nil {
		cfg.BatteryLifeMS = *m.BatteryLifeMS
	}

	if m.SampleEveryTicks != nil {
		cfg.SampleEveryTicks = *m.SampleEveryTicks
	}

	if m.LowBatteryEventEveryMS != nil {
		cfg.LowBatteryEventEveryMS = *m.LowBatteryEventEveryMS
	}

	if m.StrictMissionFailure != nil {
		cfg.StrictMissionFailure = *m.StrictMissionFailure
	}

	return cfg
}

// wakeThresholdPct resolves the hysteresis barrier: an explicit override
// wins, otherwise reserve plus hysteresis scaled to percentage points.
func (m *Manifest) wakeThresholdPct() float64 {
	if m.WakeThresholdPct != nil {
		return *m.WakeThresholdPct
	}

	reserve := sched.DefaultBatteryReserve
	if m.BatteryReservePct != nil {
		reserve = *m.BatteryReservePct
	}

	hysteresis := sched.DefaultHysteresis
	if m.HysteresisPct != nil {
		hysteresis = *m.HysteresisPct
	}

	return (reserve + hysteresis) * 100
}

func copyWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for d, w := range weights {
		out[d] = w
	}

	return out
}
