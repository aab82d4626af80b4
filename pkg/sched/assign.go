package sched

import (
	"fmt"
	"sort"
)

type tier int

const (
	tierKeep tier = iota
	tierFresh
	tierDistinctWake
	tierMultiRole
	tierLastResort
)

// tickState carries one tick's working set through the assignment,
// invariant, energy and observability phases.
type tickState struct {
	alive      map[string]bool
	isRotation bool

	used      map[string]int
	assignMap map[string][]string
	out       []Assignment

	distinctTarget int
	distinctCount  int

	unmet map[string]int
}

type candidate struct {
	id    string
	score float64
	gated bool
}

// baseOK reports whether a unit may serve a domain at all this tick:
// alive, not dead, battery left, no (unit, domain) fault and inside the
// domain's eligibility set.
func (s *Scheduler) baseOK(unit, domain string, alive map[string]bool) bool {
	if !alive[unit] || s.dead[unit] {
		return false
	}

	if s.batteryPct[unit] <= 0 {
		return false
	}

	if s.faulted(unit, domain) {
		return false
	}

	return s.eligible[domain][unit]
}

// isResting reports whether the unit held no assignment on the previous
// tick. Down units count as resting for the hysteresis gate; baseOK
// excludes them anyway.
func (s *Scheduler) isResting(unit string) bool {
	return s.activeSince[unit] < 0
}

// hysteresisGated reports whether the wake threshold blocks this resting
// unit from the strict candidate set.
func (s *Scheduler) hysteresisGated(unit string) bool {
	return s.isResting(unit) && s.batteryPct[unit] < s.cfg.WakeThresholdPct
}

func (s *Scheduler) insideDwell(unit string) bool {
	if s.cfg.MinDwellTicks <= 0 {
		return false
	}

	since := s.activeSince[unit]

	return since >= 0 && s.tick-since < s.cfg.MinDwellTicks
}

// keepCandidate reports whether the unit is an incumbent of the domain
// that should be preserved this tick. Rotation boundaries suppress keeps;
// inside minimum dwell a unit is force-kept unless its battery has fallen
// to critical level.
func (s *Scheduler) keepCandidate(unit, domain string, isRotation bool) bool {
	if isRotation {
		return false
	}

	if !s.prevAssignedTo(unit, domain) {
		return false
	}

	if s.insideDwell(unit) {
		return s.batteryPct[unit] >= s.cfg.SwapThresholdPct
	}

	return s.batteryPct[unit] > s.cfg.SwapThresholdPct
}

func (s *Scheduler) prevAssignedTo(unit, domain string) bool {
	for _, u := range s.prevAssign[domain] {
		if u == unit {
			return true
		}
	}

	return false
}

func (s *Scheduler) assignedPrevTick(unit string) bool {
	return s.lastAssign[unit] == s.tick-1
}

// cooldownAgeNorm is the normalised age since the unit last held any
// assignment, capped at 1. The normaliser is the rotation period in ticks,
// falling back to the gap window when rotation is disabled.
func (s *Scheduler) cooldownAgeNorm(unit string) float64 {
	last := s.lastAssign[unit]
	if last < 0 {
		return 1
	}

	period := s.rotationPeriodTicks()
	if period <= 0 {
		period = float64(s.cfg.MaxGapTicks)
	}

	norm := float64(s.tick-last) / period
	if norm > 1 {
		norm = 1
	}

	return norm
}

func (s *Scheduler) rotationPeriodTicks() float64 {
	if s.cfg.RotationPeriodMS <= 0 {
		return 0
	}

	return s.cfg.RotationPeriodMS / s.cfg.TickMS
}

func (s *Scheduler) score(unit string, keep, isRotation bool) float64 {
	score := s.batteryPct[unit] / fullBatteryPct
	score += cooldownWeight * s.cooldownAgeNorm(unit)

	if isRotation && s.assignedPrevTick(unit) {
		score -= rotationWeight
	}

	if keep && !isRotation {
		score += keepBonus
	}

	return score
}

// assignableCount counts units that could serve at least one coverage
// domain this tick, ignoring the hysteresis gate. It feeds the global
// distinctness target.
func (s *Scheduler) assignableCount(alive map[string]bool) int {
	count := 0

	for _, u := range s.cfg.Units {
		for _, d := range s.nonRestDomains() {
			if s.baseOK(u, d, alive) {
				count++
				break
			}
		}
	}

	return count
}

// fillDomain satisfies one domain's requirement via the five-tier search.
// Tiers are exhausted in order; each pick is the highest-scoring candidate
// with unit id as the deterministic tie-break.
func (s *Scheduler) fillDomain(st *tickState, domain string) {
	need := s.cfg.Required[domain]
	if need == 0 {
		s.lastService[domain] = s.tick
		st.assignMap[domain] = nil

		return
	}

	overrideAnnounced := false
	outMark := len(st.out)

	for _, t := range []tier{tierKeep, tierFresh, tierDistinctWake, tierMultiRole, tierLastResort} {
		if need == 0 {
			break
		}

		// Tier C exists to close the gap to the global distinctness
		// target; once reached, remaining need falls through to
		// multi-role tiers.
		if t == tierDistinctWake && st.distinctCount >= st.distinctTarget {
			continue
		}

		candidates := s.tierCandidates(st, domain, t)
		if len(candidates) == 0 {
			continue
		}

		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].score != candidates[j].score {
				return candidates[i].score > candidates[j].score
			}

			return candidates[i].id < candidates[j].id
		})

		for _, c := range candidates {
			if need == 0 {
				break
			}

			if t == tierDistinctWake && st.distinctCount >= st.distinctTarget {
				break
			}

			if (t == tierDistinctWake || t == tierLastResort) && !overrideAnnounced {
				s.emit(EventWakeOverride, fmt.Sprintf("domain=%s need=%d", domain, need))

				overrideAnnounced = true
			}

			if c.gated {
				switch t {
				case tierDistinctWake:
					s.emit(EventDistinctnessWake, fmt.Sprintf("unit=%s domain=%s", c.id, domain))
				case tierLastResort:
					s.emit(EventWakeOverrideUsed, fmt.Sprintf("unit=%s domain=%s", c.id, domain))
				}
			}

			if st.used[c.id] == 0 {
				st.distinctCount++
			}

			st.used[c.id]++
			st.assignMap[domain] = append(st.assignMap[domain], c.id)
			st.out = append(st.out, Assignment{Domain: domain, Unit: c.id})
			need--
		}
	}

	if need > 0 {
		// Staffing is all-or-nothing per domain: a partial crew cannot
		// meet the requirement, so the picks are released for later
		// domains and the shortfall is reported.
		s.rollbackDomain(st, domain, outMark)

		st.unmet[domain] = need
		s.emit(EventUnmetRequirement, fmt.Sprintf("domain=%s remaining=%d", domain, need))

		return
	}

	s.lastService[domain] = s.tick
}

func (s *Scheduler) rollbackDomain(st *tickState, domain string, outMark int) {
	for _, u := range st.assignMap[domain] {
		st.used[u]--

		if st.used[u] == 0 {
			st.distinctCount--
		}
	}

	st.assignMap[domain] = nil
	st.out = st.out[:outMark]
}

// tierCandidates builds the candidate list for one tier, restricted to
// units with spare capacity and not already serving this domain. Iteration
// follows fleet order so the result is deterministic before sorting.
func (s *Scheduler) tierCandidates(st *tickState, domain string, t tier) []candidate {
	var candidates []candidate

	for _, u := range s.cfg.Units {
		if st.used[u] >= s.cfg.CapacityPerUnit {
			continue
		}

		usedThisTick := st.used[u] > 0

		switch t {
		case tierKeep, tierFresh, tierDistinctWake:
			if usedThisTick {
				continue
			}
		case tierMultiRole, tierLastResort:
			if !usedThisTick {
				continue
			}
		}

		if s.inDomainList(st.assignMap[domain], u) {
			continue
		}

		if !s.baseOK(u, domain, st.alive) {
			continue
		}

		gated := s.hysteresisGated(u)
		keep := s.keepCandidate(u, domain, st.isRotation)

		switch t {
		case tierKeep:
			if gated || !keep {
				continue
			}
		case tierFresh, tierMultiRole:
			if gated {
				continue
			}
		case tierDistinctWake, tierLastResort:
			// Override tiers ignore the hysteresis gate.
		}

		candidates = append(candidates, candidate{
			id:    u,
			score: s.score(u, keep, st.isRotation),
			gated: gated,
		})
	}

	return candidates
}

func (s *Scheduler) inDomainList(units []string, unit string) bool {
	for _, u := range units {
		if u == unit {
			return true
		}
	}

	return false
}
