package sched

// Summary holds the run-level counters flushed to the summary sink on
// Close or on demand while the mission is still running.
type Summary struct {
	TicksTotal         int                `json:"ticks_total"`
	TimeMSTotal        float64            `json:"time_ms_total"`
	SampleEveryTicks   int                `json:"sample_every_ticks"`
	TotalRequiredRoles int                `json:"total_required_roles"`
	DistinctOkTicks    int                `json:"distinct_ok_ticks"`
	DistinctOkPct      float64            `json:"distinct_ok_pct"`
	MultiRoleTicks     int                `json:"multi_role_ticks"`
	MultiRolePct       float64            `json:"multi_role_pct"`
	TotalAssignments   int                `json:"total_assignments"`
	BatteryDeadUnits   []string           `json:"battery_dead_units"`
	BatteryDeadFirst   int                `json:"battery_dead_first_tick"`
	DomainWeights      map[string]float64 `json:"domain_weights"`
	TickMS             float64            `json:"tick_ms"`
	RotationPeriodMS   float64            `json:"rotation_period_ms"`
}

// Recorder receives the scheduler's observability output. Implementations
// must never fail a tick: emission is best-effort and errors stay inside
// the recorder.
type Recorder interface {
	// Timeline receives a change-only row: the domain's assignment list
	// differs from the previous tick.
	Timeline(tick int, timeMS float64, domain string, units []string, reason string)

	// BatterySample receives one unit's battery level and state on a
	// sampling tick. State is one of active, rest, down, dead.
	BatterySample(tick int, timeMS float64, unit string, batteryPct float64, state string)

	// AssignmentSample receives the distinctness counters and the full
	// per-domain assignment lists on a sampling tick.
	AssignmentSample(tick int, timeMS float64, desiredDistinct, actualDistinct int, perDomain map[string][]string)

	// Event receives one event record. Terminal kinds should be flushed
	// immediately so post-mortem tooling finds them.
	Event(tick int, timeMS float64, kind, detail string)

	// Summary receives the run counters; called on Close and on demand.
	Summary(summary Summary)

	// Close releases the underlying sinks.
	Close() error
}

// NopRecorder discards all output. It is the default when no recorder is
// supplied, and the usual choice in tests that only assert on decisions.
type NopRecorder struct{}

func (NopRecorder) Timeline(int, float64, string, []string, string) {}

func (NopRecorder) BatterySample(int, float64, string, float64, string) {}

func (NopRecorder) AssignmentSample(int, float64, int, int, map[string][]string) {}

func (NopRecorder) Event(int, float64, string, string) {}

func (NopRecorder) Summary(Summary) {}

func (NopRecorder) Close() error { return nil }
