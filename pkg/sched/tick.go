package sched

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ScheduleTick advances the logical clock by one tick and computes the
// assignment for it. The result is a pure function of prior state and the
// alive map; the scheduler reads alive but never retains or mutates it.
//
// When strict mission failure is enabled and a coverage gap outlives the
// grace window, the tick still completes in full (energy update and
// observability included) and the terminal *MissionFailure is returned
// alongside the assignments that were made.
func (s *Scheduler) ScheduleTick(alive map[string]bool) ([]Assignment, error) {
	if s.closed {
		return nil, ErrSchedulerClosed
	}

	s.tick++
	nowMS := s.TimeMS(s.tick)

	s.expireFaults(nowMS)

	isRotation := false
	if s.cfg.RotationPeriodMS > 0 && nowMS-s.lastRotationMS >= s.cfg.RotationPeriodMS {
		isRotation = true
		s.lastRotationMS = nowMS

		s.emit(EventRotation, fmt.Sprintf("period_ms=%g", s.cfg.RotationPeriodMS))
	}

	st := &tickState{
		alive:      alive,
		isRotation: isRotation,
		used:       make(map[string]int, len(s.cfg.Units)),
		assignMap:  make(map[string][]string, len(s.cfg.Domains)),
		unmet:      make(map[string]int),
	}
	st.distinctTarget = minInt(s.totalRequiredRoles, s.assignableCount(alive))

	for _, d := range s.orderedDomains() {
		s.fillDomain(st, d)
	}

	s.fillRestReport(st)

	failure := s.checkInvariants(st)

	s.applyEnergy(st)
	s.updateBookkeeping(st)
	s.observe(st)

	if failure != nil {
		s.log.Error("mission failure",
			zap.Int("tick", s.tick),
			zap.String("reason", failure.Reason),
			zap.String("domain", failure.Domain),
			zap.Int("gap", failure.Gap),
			zap.Bool("strict", s.cfg.StrictMissionFailure),
		)

		if s.cfg.StrictMissionFailure {
			return st.out, failure
		}
	}

	return st.out, nil
}

// fillRestReport records the reporting-only rest entry: every alive,
// non-dead unit holding no assignment this tick, in sorted order. The rest
// domain never contributes to gap checks or drain.
func (s *Scheduler) fillRestReport(st *tickState) {
	resting := make([]string, 0, len(s.cfg.Units))

	for _, u := range s.cfg.Units {
		if st.alive[u] && !s.dead[u] && st.used[u] == 0 {
			resting = append(resting, u)
		}
	}

	sort.Strings(resting)

	st.assignMap[s.restDomain] = resting
}

// checkInvariants advances the unmet streak and evaluates both failure
// signals: the per-domain service gap and the global unmet streak. Both
// reconcile into a single MissionFailure; the explanatory event is emitted
// once per failure episode, before the error is ever returned.
func (s *Scheduler) checkInvariants(st *tickState) *MissionFailure {
	if len(st.unmet) > 0 {
		s.unmetStreak++
	} else {
		s.unmetStreak = 0
		s.failureLatched = false
	}

	var failure *MissionFailure

	for _, d := range s.nonRestDomains() {
		gap := s.tick - s.lastService[d]
		if gap > s.cfg.MaxGapTicks {
			failure = &MissionFailure{Tick: s.tick, Domain: d, Gap: gap, Reason: FailureGapExceeded}
			break
		}
	}

	if failure == nil && s.unmetStreak > s.cfg.MaxGapTicks {
		failure = &MissionFailure{Tick: s.tick, Gap: s.unmetStreak, Reason: FailureUnmetStreak}
	}

	if failure == nil {
		return nil
	}

	if !s.failureLatched {
		s.emit(EventMissionFailure, failure.detail(s.cfg.MaxGapTicks))
		s.failureLatched = true
	}

	return failure
}

// updateBookkeeping records assignment recency and the active/rest
// transitions the next tick's scoring and hysteresis read.
func (s *Scheduler) updateBookkeeping(st *tickState) {
	for _, u := range s.cfg.Units {
		if st.used[u] > 0 {
			s.lastAssign[u] = s.tick

			if s.activeSince[u] < 0 {
				s.activeSince[u] = s.tick
				s.restSince[u] = -1
			}

			continue
		}

		if s.activeSince[u] >= 0 {
			s.activeSince[u] = -1
			s.restSince[u] = s.tick
		}
	}
}

// observe writes change-only timeline rows, periodic samples and the
// per-tick counters, then retires the assignment map into prev_assign.
func (s *Scheduler) observe(st *tickState) {
	nowMS := s.TimeMS(s.tick)

	for _, d := range s.cfg.Domains {
		curr := st.assignMap[d]
		prev := s.prevAssign[d]

		if !equalUnitLists(prev, curr) {
			reason := "assignments"
			if d == s.restDomain {
				reason = "rest"
			}

			s.rec.Timeline(s.tick, nowMS, d, curr, reason)
		}
	}

	s.totalAssignments += len(st.out)

	if st.distinctCount == st.distinctTarget {
		s.distinctOkTicks++
	}

	for _, u := range s.cfg.Units {
		if st.used[u] > 1 {
			s.multiRoleTicks++
			break
		}
	}

	if s.cfg.SampleEveryTicks > 0 && s.tick%s.cfg.SampleEveryTicks == 0 {
		for _, u := range s.cfg.Units {
			s.rec.BatterySample(s.tick, nowMS, u, s.batteryPct[u], s.unitState(st, u))
		}

		s.rec.AssignmentSample(s.tick, nowMS, st.distinctTarget, st.distinctCount, st.assignMap)
	}

	s.prevAssign = st.assignMap
}

func (s *Scheduler) unitState(st *tickState, unit string) string {
	switch {
	case s.dead[unit]:
		return "dead"
	case !st.alive[unit]:
		return "down"
	case st.used[unit] > 0:
		return "active"
	default:
		return "rest"
	}
}

func (s *Scheduler) emit(kind, detail string) {
	if s.closed {
		return
	}

	s.rec.Event(s.tick, s.TimeMS(s.tick), kind, detail)
}

func equalUnitLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}
