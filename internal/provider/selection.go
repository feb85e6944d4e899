package provider

import (
	"math"
	"sort"
)

// OptimalPair picks the most capable teacher and the student with the best
// capability-for-price trade-off. It returns nil values only for empty input.
func OptimalPair(teachers, students []Provider) (teacher, student Provider) {
	best := 0.0
	for _, p := range teachers {
		if s := p.Describe().RoleSuitability.Teacher; s > best {
			teacher, best = p, s
		}
	}
	if teacher == nil && len(teachers) > 0 {
		teacher = teachers[0]
	}

	best = 0.0
	for _, p := range students {
		info := p.Describe()
		costFactor := 1.0 / (info.Pricing.Output + 0.001)
		if s := info.RoleSuitability.Student * math.Pow(costFactor, 0.3); s > best {
			student, best = p, s
		}
	}
	if student == nil && len(students) > 0 {
		student = students[0]
	}
	return teacher, student
}

// CheapestFor returns the lowest-priced provider whose best role score
// covers complexity, falling back to the first provider.
func CheapestFor(providers []Provider, complexity float64) Provider {
	if len(providers) == 0 {
		return nil
	}

	type candidate struct {
		p    Provider
		cost float64
	}
	var suitable []candidate
	for _, p := range providers {
		info := p.Describe()
		if info.RoleSuitability.Best() >= complexity {
			suitable = append(suitable, candidate{p: p, cost: (info.Pricing.Input + info.Pricing.Output) / 2})
		}
	}
	if len(suitable) == 0 {
		return providers[0]
	}
	sort.SliceStable(suitable, func(i, j int) bool { return suitable[i].cost < suitable[j].cost })
	return suitable[0].p
}
