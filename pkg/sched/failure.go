package sched

import "fmt"

// Event kinds written to the events stream.
const (
	EventRotation         = "rotation"
	EventWakeOverride     = "wake_override"
	EventDistinctnessWake = "distinctness_wake"
	EventWakeOverrideUsed = "wake_override_used"
	EventUnmetRequirement = "unmet_requirements"
	EventMissionFailure   = "mission_failure"
	EventBatteryDead      = "battery_dead"
	EventLowBatteryActive = "low_battery_active"
)

// Failure reasons carried by MissionFailure.
const (
	FailureUnmetStreak = "unmet_streak"
	FailureGapExceeded = "gap_exceeded"
)

// MissionFailure is the terminal error returned by ScheduleTick when a
// coverage gap outlives the configured grace window. The explanatory
// mission_failure event is always emitted before this value is returned.
type MissionFailure struct {
	Tick   int
	Domain string
	Gap    int
	Reason string
}

// Error implements the error interface.
func (f *MissionFailure) Error() string {
	if f.Domain != "" {
		return fmt.Sprintf("mission failure at tick %d: %s domain=%s gap=%d", f.Tick, f.Reason, f.Domain, f.Gap)
	}

	return fmt.Sprintf("mission failure at tick %d: %s gap=%d", f.Tick, f.Reason, f.Gap)
}

func (f *MissionFailure) detail(maxGap int) string {
	if f.Domain != "" {
		return fmt.Sprintf("reason=%s domain=%s gap=%d max=%d", f.Reason, f.Domain, f.Gap, maxGap)
	}

	return fmt.Sprintf("reason=%s gap=%d max=%d", f.Reason, f.Gap, maxGap)
}
