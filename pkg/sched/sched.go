// Package sched implements the deadline-driven fleet coverage scheduler: a
// deterministic per-tick assignment of units to coverage domains under
// per-domain staffing minimums, per-domain maximum service gaps and
// per-unit finite energy.
package sched

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultCapacityPerUnit  = 2
	DefaultBatteryLifeMS    = 420000.0
	DefaultSampleEveryTicks = 50
	DefaultSwapThresholdPct = 10.0
	DefaultBatteryReserve   = 0.15
	DefaultHysteresis       = 0.08

	fullBatteryPct = 100.0
)

// Scoring weights for the candidate ranking. Battery level dominates; the
// cooldown and rotation terms only flip near-equal scores.
const (
	cooldownWeight = 0.25
	rotationWeight = 0.35
	keepBonus      = 0.5
)

var (
	ErrMissingRestDomain   = errors.New("sched: domains must include a rest member")
	ErrNonPositiveTick     = errors.New("sched: tick duration must be positive")
	ErrNonPositiveGap      = errors.New("sched: max gap must be positive")
	ErrNegativeRequirement = errors.New("sched: required active count must be non-negative")
	ErrNonPositiveWeight   = errors.New("sched: domain weight must be positive")
	ErrUnknownUnit         = errors.New("sched: unknown unit")
	ErrUnknownDomain       = errors.New("sched: unknown domain")
	ErrDuplicateID         = errors.New("sched: duplicate identifier")
	ErrNoUnits             = errors.New("sched: at least one unit is required")
	ErrSchedulerClosed     = errors.New("sched: scheduler is closed")
)

// Config carries the normalised mission view the scheduler operates on.
// Domains and Units preserve manifest order; Required maps every domain to
// its staffing minimum with the rest domain forced to zero.
type Config struct {
	Domains []string
	Units   []string

	Required map[string]int
	Pools    map[string][]string
	Weights  map[string]float64

	UniversalRoles bool

	TickMS      float64
	MaxGapTicks int

	CapacityPerUnit int

	RotationPeriodMS float64
	MinDwellTicks    int

	SwapThresholdPct float64
	WakeThresholdPct float64

	BatteryLifeMS          float64
	SampleEveryTicks       int
	LowBatteryEventEveryMS float64

	StrictMissionFailure bool
}

// Assignment is one (domain, unit) pair produced by a tick.
type Assignment struct {
	Domain string
	Unit   string
}

// Scheduler is the single-threaded tick engine. All state is privately
// owned; ScheduleTick is the only mutating entry point and must be driven
// by a single caller in tick order.
type Scheduler struct {
	cfg Config
	log *zap.Logger
	rec Recorder

	restDomain string
	eligible   map[string]map[string]bool

	tick int

	batteryPct  map[string]float64
	dead        map[string]bool
	deadAtTick  map[string]int
	lastAssign  map[string]int
	activeSince map[string]int
	restSince   map[string]int
	lastLowWarn map[string]int

	lastService map[string]int
	prevAssign  map[string][]string

	faults map[faultKey]faultRecord

	unmetStreak    int
	failureLatched bool
	lastRotationMS float64

	totalRequiredRoles int
	totalAssignments   int
	distinctOkTicks    int
	multiRoleTicks     int
	firstDeadTick      int

	closed bool
}

// New validates cfg, applies defaults and returns a scheduler positioned
// before its first tick. Validation failures are configuration errors: the
// scheduler must never be started on a rejected config.
func New(cfg Config, rec Recorder, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if rec == nil {
		rec = NopRecorder{}
	}

	applyDefaults(&cfg)

	restDomain, err := validateConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:        cfg,
		log:        logger,
		rec:        rec,
		restDomain: restDomain,

		batteryPct:  make(map[string]float64, len(cfg.Units)),
		dead:        make(map[string]bool, len(cfg.Units)),
		deadAtTick:  make(map[string]int, len(cfg.Units)),
		lastAssign:  make(map[string]int, len(cfg.Units)),
		activeSince: make(map[string]int, len(cfg.Units)),
		restSince:   make(map[string]int, len(cfg.Units)),
		lastLowWarn: make(map[string]int, len(cfg.Units)),

		lastService: make(map[string]int, len(cfg.Domains)),
		prevAssign:  make(map[string][]string, len(cfg.Domains)),

		faults: make(map[faultKey]faultRecord),

		firstDeadTick: -1,
	}

	for _, u := range cfg.Units {
		s.batteryPct[u] = fullBatteryPct
		s.lastAssign[u] = -1
		s.activeSince[u] = -1
		s.restSince[u] = 0
		s.lastLowWarn[u] = -1
	}

	for _, d := range cfg.Domains {
		s.lastService[d] = 0
		s.prevAssign[d] = nil

		if !strings.EqualFold(d, restDomain) {
			s.totalRequiredRoles += cfg.Required[d]
		}
	}

	s.eligible = buildEligibility(cfg, restDomain)

	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.CapacityPerUnit <= 0 {
		cfg.CapacityPerUnit = DefaultCapacityPerUnit
	}

	if cfg.BatteryLifeMS <= 0 {
		cfg.BatteryLifeMS = DefaultBatteryLifeMS
	}

	if cfg.SampleEveryTicks <= 0 {
		cfg.SampleEveryTicks = DefaultSampleEveryTicks
	}

	if cfg.SwapThresholdPct <= 0 {
		cfg.SwapThresholdPct = DefaultSwapThresholdPct
	}

	if cfg.WakeThresholdPct <= 0 {
		cfg.WakeThresholdPct = (DefaultBatteryReserve + DefaultHysteresis) * fullBatteryPct
	}

	if cfg.Weights == nil {
		cfg.Weights = make(map[string]float64)
	}

	for _, d := range cfg.Domains {
		if _, ok := cfg.Weights[d]; !ok {
			cfg.Weights[d] = 1.0
		}
	}

	if cfg.Required == nil {
		cfg.Required = make(map[string]int)
	}
}

func validateConfig(cfg Config) (string, error) {
	if cfg.TickMS <= 0 {
		return "", ErrNonPositiveTick
	}

	if cfg.MaxGapTicks <= 0 {
		return "", ErrNonPositiveGap
	}

	if len(cfg.Units) == 0 {
		return "", ErrNoUnits
	}

	restDomain := ""

	seenDomains := make(map[string]bool, len(cfg.Domains))
	for _, d := range cfg.Domains {
		if seenDomains[d] {
			return "", fmt.Errorf("%w: domain %q", ErrDuplicateID, d)
		}

		seenDomains[d] = true

		if strings.EqualFold(d, "rest") {
			restDomain = d
		}
	}

	if restDomain == "" {
		return "", ErrMissingRestDomain
	}

	seenUnits := make(map[string]bool, len(cfg.Units))
	for _, u := range cfg.Units {
		if seenUnits[u] {
			return "", fmt.Errorf("%w: unit %q", ErrDuplicateID, u)
		}

		seenUnits[u] = true
	}

	for d, n := range cfg.Required {
		if n < 0 {
			return "", fmt.Errorf("%w: domain %q requires %d", ErrNegativeRequirement, d, n)
		}
	}

	if cfg.Required[restDomain] != 0 {
		return "", fmt.Errorf("%w: rest domain must require zero units", ErrNegativeRequirement)
	}

	for d, w := range cfg.Weights {
		if w <= 0 {
			return "", fmt.Errorf("%w: domain %q weight %v", ErrNonPositiveWeight, d, w)
		}
	}

	for d, pool := range cfg.Pools {
		if d != "spares" && !seenDomains[d] {
			return "", fmt.Errorf("%w: pool for %q", ErrUnknownDomain, d)
		}

		for _, u := range pool {
			if !seenUnits[u] {
				return "", fmt.Errorf("%w: %q in pool %q", ErrUnknownUnit, u, d)
			}
		}
	}

	return restDomain, nil
}

// buildEligibility precomputes the unit set assignable to each non-rest
// domain. Universal mode populates every set with the whole fleet;
// otherwise a domain draws from its own pool plus the shared spares pool.
func buildEligibility(cfg Config, restDomain string) map[string]map[string]bool {
	eligible := make(map[string]map[string]bool, len(cfg.Domains))

	for _, d := range cfg.Domains {
		if d == restDomain {
			continue
		}

		set := make(map[string]bool, len(cfg.Units))

		if cfg.UniversalRoles {
			for _, u := range cfg.Units {
				set[u] = true
			}
		} else {
			for _, u := range cfg.Pools[d] {
				set[u] = true
			}

			for _, u := range cfg.Pools["spares"] {
				set[u] = true
			}
		}

		eligible[d] = set
	}

	return eligible
}

// nonRestDomains returns the coverage domains in manifest order.
func (s *Scheduler) nonRestDomains() []string {
	domains := make([]string, 0, len(s.cfg.Domains)-1)

	for _, d := range s.cfg.Domains {
		if d != s.restDomain {
			domains = append(domains, d)
		}
	}

	return domains
}

// orderedDomains realises earliest-deadline-first with least-laxity and
// lexicographic tie-breaking, so the assignment order is deterministic.
func (s *Scheduler) orderedDomains() []string {
	domains := s.nonRestDomains()

	sort.Slice(domains, func(i, j int) bool {
		di, dj := domains[i], domains[j]

		deadlineI := s.lastService[di] + s.cfg.MaxGapTicks
		deadlineJ := s.lastService[dj] + s.cfg.MaxGapTicks

		if deadlineI != deadlineJ {
			return deadlineI < deadlineJ
		}

		slackI := deadlineI - s.tick
		slackJ := deadlineJ - s.tick

		if slackI != slackJ {
			return slackI < slackJ
		}

		return di < dj
	})

	return domains
}

// Tick reports the last completed tick number.
func (s *Scheduler) Tick() int {
	return s.tick
}

// TimeMS converts a tick count into logical milliseconds.
func (s *Scheduler) TimeMS(tick int) float64 {
	return float64(tick) * s.cfg.TickMS
}

// Close flushes the run summary and releases the observability sinks.
// Subsequent emissions are dropped.
func (s *Scheduler) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	s.rec.Summary(s.buildSummary())

	err := s.rec.Close()
	if err != nil {
		return fmt.Errorf("close recorder: %w", err)
	}

	return nil
}

// WriteSummary emits the current counters without closing the sinks, for
// on-demand snapshots of a still-running mission.
func (s *Scheduler) WriteSummary() {
	if s.closed {
		return
	}

	s.rec.Summary(s.buildSummary())
}

func (s *Scheduler) buildSummary() Summary {
	deadUnits := make([]string, 0)

	for _, u := range s.cfg.Units {
		if s.dead[u] {
			deadUnits = append(deadUnits, u)
		}
	}

	summary := Summary{
		TicksTotal:         s.tick,
		TimeMSTotal:        s.TimeMS(s.tick),
		SampleEveryTicks:   s.cfg.SampleEveryTicks,
		TotalRequiredRoles: s.totalRequiredRoles,
		DistinctOkTicks:    s.distinctOkTicks,
		MultiRoleTicks:     s.multiRoleTicks,
		TotalAssignments:   s.totalAssignments,
		BatteryDeadUnits:   deadUnits,
		BatteryDeadFirst:   s.firstDeadTick,
		DomainWeights:      s.cfg.Weights,
		TickMS:             s.cfg.TickMS,
		RotationPeriodMS:   s.cfg.RotationPeriodMS,
	}

	if s.tick > 0 {
		summary.DistinctOkPct = roundPct(float64(s.distinctOkTicks) / float64(s.tick) * 100)
		summary.MultiRolePct = roundPct(float64(s.multiRoleTicks) / float64(s.tick) * 100)
	}

	return summary
}

func roundPct(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Snapshot is the read-only view exposed to observers between ticks.
type Snapshot struct {
	Tick        int
	TimeMS      float64
	Assignments map[string][]string
	BatteryPct  map[string]float64
	DeadUnits   []string
	UnmetStreak int
	Counters    Summary
}

// SnapshotState copies the last assignment map and the current counters. It must
// only be called between ticks; the scheduler never mutates a returned
// snapshot.
func (s *Scheduler) SnapshotState() Snapshot {
	assignments := make(map[string][]string, len(s.prevAssign))
	for d, units := range s.prevAssign {
		assignments[d] = append([]string(nil), units...)
	}

	battery := make(map[string]float64, len(s.batteryPct))
	for u, pct := range s.batteryPct {
		battery[u] = pct
	}

	deadUnits := make([]string, 0)

	for _, u := range s.cfg.Units {
		if s.dead[u] {
			deadUnits = append(deadUnits, u)
		}
	}

	return Snapshot{
		Tick:        s.tick,
		TimeMS:      s.TimeMS(s.tick),
		Assignments: assignments,
		BatteryPct:  battery,
		DeadUnits:   deadUnits,
		UnmetStreak: s.unmetStreak,
		Counters:    s.buildSummary(),
	}
}
