package sched

import (
	"fmt"

	"go.uber.org/zap"
)

type faultKey struct {
	unit   string
	domain string
}

type faultRecord struct {
	permanent   bool
	recoverAtMS float64
}

// SetDomainFault marks (unit, domain) unassignable. A positive durationMS
// expires the fault once logical time reaches its recovery point; permanent
// faults never expire. The fault takes effect at the next tick boundary.
func (s *Scheduler) SetDomainFault(unit, domain string, durationMS float64, permanent bool) error {
	if !s.knownUnit(unit) {
		return fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
	}

	if !s.knownDomain(domain) {
		return fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
	}

	record := faultRecord{permanent: permanent}
	if !permanent {
		record.recoverAtMS = s.TimeMS(s.tick) + durationMS
	}

	s.faults[faultKey{unit: unit, domain: domain}] = record

	s.log.Debug("domain fault set",
		zap.String("unit", unit),
		zap.String("domain", domain),
		zap.Float64("durationMS", durationMS),
		zap.Bool("permanent", permanent),
	)

	return nil
}

// ClearAllDomainFaults removes every registered fault, returning the
// candidate sets to their untainted definition on the next tick.
func (s *Scheduler) ClearAllDomainFaults() {
	s.faults = make(map[faultKey]faultRecord)
}

// expireFaults drops temporary faults whose recovery time has passed.
func (s *Scheduler) expireFaults(nowMS float64) {
	for key, record := range s.faults {
		if !record.permanent && nowMS >= record.recoverAtMS {
			delete(s.faults, key)
		}
	}
}

func (s *Scheduler) faulted(unit, domain string) bool {
	_, ok := s.faults[faultKey{unit: unit, domain: domain}]
	return ok
}

func (s *Scheduler) knownUnit(unit string) bool {
	_, ok := s.batteryPct[unit]
	return ok
}

func (s *Scheduler) knownDomain(domain string) bool {
	_, ok := s.lastService[domain]
	return ok
}
