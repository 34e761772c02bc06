// Package solver resolves match-spec jobs against the indexed and
// installed record sets, producing an ordered transaction plan.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package solver

import (
	"sort"

	"github.com/marmot-pm/marmot/specs"
)

// Solution is the solver's verdict as record sets: Install in link order
// (dependencies first), Remove in unlink order (dependents first).
type Solution struct {
	Install []*specs.PackageRecord
	Remove  []*specs.PackageRecord
}

func (sol *Solution) Empty() bool { return len(sol.Install) == 0 && len(sol.Remove) == 0 }

// buildSolution diffs the decided set against the installed set.
func (s *Solver) buildSolution() (*Solution, error) {
	var (
		sol       = &Solution{}
		installed = s.pool.InstalledAll()
		decided   = make(map[string]*specs.PackageRecord)
	)
	for name, cand := range s.decided {
		if cand.virtual {
			continue
		}
		decided[name] = cand.rec
	}

	for name, rec := range decided {
		old, wasInstalled := installed[name]
		if wasInstalled && old.Key() == rec.Key() {
			continue // unchanged
		}
		sol.Install = append(sol.Install, rec)
		if wasInstalled {
			sol.Remove = append(sol.Remove, old)
		}
	}
	for name, old := range installed {
		if _, keep := decided[name]; !keep {
			sol.Remove = append(sol.Remove, old)
		}
	}

	sol.Install = topoOrder(sol.Install, false)
	sol.Remove = topoOrder(sol.Remove, true)
	return sol, nil
}

// topoOrder sorts records so that a record's dependencies within the set
// come before it (or after it, reversed, for unlink order). Ties and
// cycles resolve by name for determinism.
func topoOrder(recs []*specs.PackageRecord, reverse bool) []*specs.PackageRecord {
	byName := make(map[string]*specs.PackageRecord, len(recs))
	for _, rec := range recs {
		byName[rec.Name] = rec
	}
	var (
		order = make([]*specs.PackageRecord, 0, len(recs))
		state = make(map[string]int, len(recs)) // 0 unseen, 1 visiting, 2 done
		names = make([]string, 0, len(recs))
		visit func(name string)
	)
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	visit = func(name string) {
		rec, ok := byName[name]
		if !ok || state[name] != 0 {
			return
		}
		state[name] = 1
		deps, err := rec.DependSpecs()
		if err == nil {
			for _, dep := range deps {
				if state[dep.Name] != 1 { // skip back-edges of cycles
					visit(dep.Name)
				}
			}
		}
		state[name] = 2
		order = append(order, rec)
	}
	for _, name := range names {
		visit(name)
	}
	if reverse {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	return order
}
