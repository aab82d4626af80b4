package mission

// Feasibility reports whether a mission can be staffed at full strength
// and how many leading-unit permanent faults it tolerates before a
// requirement becomes unsatisfiable. Fault sweeps knock out the first N
// units in manifest order, so tolerance is evaluated the same way.
type Feasibility struct {
	Feasible           bool `json:"feasible"`
	TotalRequiredRoles int  `json:"total_required_roles"`
	AssignableUnits    int  `json:"assignable_units"`
	Fmax               int  `json:"fmax"`
}

// CheckFeasibility evaluates the manifest against a per-unit capacity.
func (m *Manifest) CheckFeasibility(capacityPerUnit int) Feasibility {
	if capacityPerUnit <= 0 {
		capacityPerUnit = 2
	}

	required := m.RequiredMap()
	rest := m.RestDomain()

	total := 0
	for _, d := range m.Domains {
		if d != rest {
			total += required[d]
		}
	}

	result := Feasibility{
		TotalRequiredRoles: total,
		AssignableUnits:    len(m.Units),
	}

	result.Feasible = m.staffable(required, rest, capacityPerUnit, 0)
	if !result.Feasible {
		return result
	}

	fmax := 0
	for faults := 1; faults <= len(m.Units); faults++ {
		if !m.staffable(required, rest, capacityPerUnit, faults) {
			break
		}

		fmax = faults
	}

	result.Fmax = fmax

	return result
}

// staffable checks total capacity and per-domain supply with the first
// `faults` units removed.
func (m *Manifest) staffable(required map[string]int, rest string, capacityPerUnit, faults int) bool {
	down := make(map[string]bool, faults)
	for _, u := range m.Units[:minIdx(faults, len(m.Units))] {
		down[u] = true
	}

	surviving := len(m.Units) - len(down)

	total := 0
	for _, d := range m.Domains {
		if d != rest {
			total += required[d]
		}
	}

	if total > surviving*capacityPerUnit {
		return false
	}

	if m.UniversalRoles {
		return true
	}

	spares := m.DomainPools["spares"]

	for _, d := range m.Domains {
		if d == rest || required[d] == 0 {
			continue
		}

		available := 0
		counted := make(map[string]bool)

		for _, u := range append(append([]string(nil), m.DomainPools[d]...), spares...) {
			if down[u] || counted[u] {
				continue
			}

			counted[u] = true
			available++
		}

		if available < required[d] {
			return false
		}
	}

	return true
}

func minIdx(a, b int) int {
	if a < b {
		return a
	}

	return b
}
