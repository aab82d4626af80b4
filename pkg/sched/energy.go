package sched

import (
	"fmt"

	"go.uber.org/zap"
)

// drainPerRole is the percentage points one role-assignment costs per tick
// at weight 1.0.
func (s *Scheduler) drainPerRole() float64 {
	return fullBatteryPct * s.cfg.TickMS / s.cfg.BatteryLifeMS
}

// applyEnergy settles the tick's battery movement: weighted drain for each
// role held, recharge for alive resting units, nothing for down units.
// A unit whose battery crosses zero is clamped to exactly 0 and marked
// dead, once and terminally.
func (s *Scheduler) applyEnergy(st *tickState) {
	base := s.drainPerRole()

	drain := make(map[string]float64, len(s.cfg.Units))

	for _, d := range s.nonRestDomains() {
		for _, u := range st.assignMap[d] {
			drain[u] += base * s.cfg.Weights[d]
		}
	}

	rechargeRate := 0.5 * base * s.cfg.Weights[s.restDomain]

	for _, u := range s.cfg.Units {
		if s.dead[u] || !st.alive[u] {
			continue
		}

		cost, active := drain[u]
		if !active {
			s.batteryPct[u] += rechargeRate
			if s.batteryPct[u] > fullBatteryPct {
				s.batteryPct[u] = fullBatteryPct
			}

			continue
		}

		s.batteryPct[u] -= cost

		if s.batteryPct[u] <= 0 {
			s.batteryPct[u] = 0
			s.markDead(u)

			continue
		}

		if s.batteryPct[u] < s.cfg.SwapThresholdPct {
			s.warnLowBattery(u)
		}
	}
}

func (s *Scheduler) markDead(unit string) {
	s.dead[unit] = true
	s.deadAtTick[unit] = s.tick

	if s.firstDeadTick < 0 {
		s.firstDeadTick = s.tick
	}

	s.emit(EventBatteryDead, fmt.Sprintf("unit=%s", unit))

	s.log.Warn("unit battery exhausted",
		zap.String("unit", unit),
		zap.Int("tick", s.tick),
	)
}

// warnLowBattery emits low_battery_active, throttled per unit by the
// configured interval. An interval of zero reports every tick.
func (s *Scheduler) warnLowBattery(unit string) {
	if s.cfg.LowBatteryEventEveryMS > 0 {
		last := s.lastLowWarn[unit]
		if last >= 0 && (float64(s.tick-last)*s.cfg.TickMS) < s.cfg.LowBatteryEventEveryMS {
			return
		}
	}

	s.lastLowWarn[unit] = s.tick
	s.emit(EventLowBatteryActive, fmt.Sprintf("unit=%s battery=%.3f", unit, s.batteryPct[unit]))
}
