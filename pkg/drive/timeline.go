// Package drive runs a scheduler headlessly: it owns the liveness channel,
// replays scripted failure injections and supplies the wall-clock policy
// the core deliberately lacks.
package drive

import (
	"fleet-coverage-scheduler/pkg/mission"
)

// Crash injection types that flip a unit's liveness.
const (
	InjectionUnitCrash       = "unit_crash"
	InjectionEffectorFailure = "effector_failure"
	InjectionAuthFail        = "auth_fail"
)

// FailureTimeline tracks externally-observed unit liveness: initial
// permanent faults over the first N units (the deterministic fault sweep),
// scripted crash injections and their scheduled recoveries.
type FailureTimeline struct {
	units     []string
	alive     map[string]bool
	recoverAt map[string]float64
	permanent map[string]bool

	injections []mission.Injection
	applied    []bool
}

// NewFailureTimeline starts every unit alive, then applies initialFaults
// permanent faults to the leading units in manifest order.
func NewFailureTimeline(units []string, injections []mission.Injection, initialFaults int) *FailureTimeline {
	t := &FailureTimeline{
		units:      append([]string(nil), units...),
		alive:      make(map[string]bool, len(units)),
		recoverAt:  make(map[string]float64, len(units)),
		permanent:  make(map[string]bool, len(units)),
		injections: append([]mission.Injection(nil), injections...),
		applied:    make([]bool, len(injections)),
	}

	for _, u := range units {
		t.alive[u] = true
		t.recoverAt[u] = -1
	}

	if initialFaults < 0 {
		initialFaults = 0
	}

	if initialFaults > len(units) {
		initialFaults = len(units)
	}

	for _, u := range units[:initialFaults] {
		t.alive[u] = false
		t.permanent[u] = true
	}

	return t
}

// Apply advances the timeline to the given logical time: injections whose
// start has been reached take effect, and expired temporary failures
// recover. Called once per tick, before the scheduler runs.
func (t *FailureTimeline) Apply(nowMS float64) {
	for i, inj := range t.injections {
		if t.applied[i] || inj.AtMS > nowMS {
			continue
		}

		t.applied[i] = true

		if !isCrashType(inj.Type) {
			continue
		}

		t.alive[inj.Unit] = false

		if inj.Permanent {
			t.permanent[inj.Unit] = true
			t.recoverAt[inj.Unit] = -1

			continue
		}

		if inj.DurationMS > 0 {
			t.recoverAt[inj.Unit] = inj.AtMS + inj.DurationMS
		} else {
			t.recoverAt[inj.Unit] = -1
		}
	}

	for _, u := range t.units {
		at := t.recoverAt[u]
		if at >= 0 && nowMS >= at && !t.permanent[u] {
			t.alive[u] = true
			t.recoverAt[u] = -1
		}
	}
}

// SetAlive flips one unit's liveness directly, for interactive drivers.
func (t *FailureTimeline) SetAlive(unit string, alive bool) {
	if _, ok := t.alive[unit]; ok {
		t.alive[unit] = alive
	}
}

// Status returns a copy of the current liveness map.
func (t *FailureTimeline) Status() map[string]bool {
	status := make(map[string]bool, len(t.alive))
	for u, ok := range t.alive {
		status[u] = ok
	}

	return status
}

func isCrashType(kind string) bool {
	switch kind {
	case InjectionUnitCrash, InjectionEffectorFailure, InjectionAuthFail:
		return true
	default:
		return false
	}
}
