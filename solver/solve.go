// Package solver resolves match-spec jobs against the indexed and
// installed record sets, producing an ordered transaction plan.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package solver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/specs"
	"go.uber.org/zap"
)

type (
	JobKind int

	// Job is one user-level demand on the solution.
	Job struct {
		Kind JobKind
		Spec *specs.MatchSpec
	}

	// Flags tune the search.
	Flags struct {
		AllowDowngrade bool
		AllowUninstall bool
	}

	// Solver runs one resolution. Not reusable.
	Solver struct {
		pool  *Pool
		flags Flags
		log   *zap.SugaredLogger

		// Search state.
		constraints map[string][]*specs.MatchSpec
		pinned      map[string]*specs.MatchSpec
		decided     map[string]*candidate
		removed     map[string]bool
		problems    []string
		steps       int
	}
)

const (
	JobInstall JobKind = iota
	JobRemove
	JobUpdate
	JobUpdateAll
	JobLock // keep the installed version
	JobPin  // hard constraint; violation is an error
)

// maxSteps bounds the backtracking search; real dependency graphs stay
// far below it, degenerate inputs get a clean Unsatisfiable instead of
// an endless spin.
const maxSteps = 200_000

func New(pool *Pool, flags Flags, log *zap.SugaredLogger) *Solver {
	return &Solver{
		pool:        pool,
		flags:       flags,
		log:         log,
		constraints: make(map[string][]*specs.MatchSpec),
		pinned:      make(map[string]*specs.MatchSpec),
		decided:     make(map[string]*candidate),
		removed:     make(map[string]bool),
	}
}

// Solve resolves the job list into a Solution or an Unsatisfiable error
// carrying a human-readable explanation.
func (s *Solver) Solve(jobs []Job) (*Solution, error) {
	var roots []string // names demanded by the user, solved first

	for _, job := range jobs {
		switch job.Kind {
		case JobPin:
			s.pinned[job.Spec.Name] = job.Spec
			s.constraints[job.Spec.Name] = append(s.constraints[job.Spec.Name], job.Spec)
		case JobInstall, JobUpdate:
			s.constraints[job.Spec.Name] = append(s.constraints[job.Spec.Name], job.Spec)
			roots = append(roots, job.Spec.Name)
		case JobLock:
			if rec, ok := s.pool.Installed(job.Spec.Name); ok {
				lock := specs.MustParseMatchSpec(
					fmt.Sprintf("%s ==%s %s", rec.Name, rec.Version, rec.Build))
				s.constraints[rec.Name] = append(s.constraints[rec.Name], lock)
				roots = append(roots, rec.Name)
			}
		case JobRemove:
			s.removed[job.Spec.Name] = true
		case JobUpdateAll:
			for name := range s.pool.InstalledAll() {
				if _, pinnedDown := s.pinned[name]; !pinnedDown {
					roots = append(roots, name)
				}
			}
		}
	}

	// Keep everything installed that is neither removed nor re-demanded:
	// they participate as locked-if-possible soft requirements.
	var kept []string
	for name := range s.pool.InstalledAll() {
		if s.removed[name] {
			continue
		}
		if _, demanded := s.constraints[name]; !demanded {
			kept = append(kept, name)
		}
	}
	sort.Strings(kept)
	sort.Strings(roots)
	roots = dedup(roots)

	if err := s.satisfyAll(roots); err != nil {
		return nil, err
	}
	// Soft-keep the rest of the prefix, preferring the installed copy.
	for _, name := range kept {
		if _, done := s.decided[name]; done {
			continue
		}
		if err := s.satisfy(name, nil); err != nil {
			// Keeping an unrelated package must not fail an install; the
			// package stays as is.
			s.log.Debugf("keeping %s as installed: %v", name, err)
			if rec, ok := s.pool.Installed(name); ok {
				s.decided[name] = &candidate{rec: rec, installed: true,
					ver: specs.MustParseVersion(rec.Version)}
			}
		}
	}
	s.pruneRemoved()
	return s.buildSolution()
}

func (s *Solver) satisfyAll(names []string) error {
	for _, name := range names {
		if s.removed[name] {
			continue
		}
		if err := s.satisfy(name, nil); err != nil {
			return s.unsatisfiable()
		}
	}
	return nil
}

// satisfy picks a record for name under the accumulated constraints and
// recursively satisfies its dependencies, backtracking on conflict.
func (s *Solver) satisfy(name string, chain []string) error {
	s.steps++
	if s.steps > maxSteps {
		s.problem("search budget exhausted while resolving %s", name)
		return errConflict
	}
	if cur, ok := s.decided[name]; ok {
		// Already decided: it must satisfy the (possibly grown)
		// constraint set, otherwise the earlier choice conflicts.
		for _, ms := range s.constraints[name] {
			if !ms.Match(cur.rec) {
				s.problem("package %s is pinned to %s which conflicts with %q",
					name, cur.rec.DistName(), ms.String())
				return errConflict
			}
		}
		return nil
	}
	if contains(chain, name) {
		// Dependency cycles are legal in this ecosystem; break the loop
		// and let the earlier frame finish the decision.
		return nil
	}

	cands := s.candidates(name)
	if len(cands) == 0 {
		s.noCandidateProblem(name, chain)
		return errConflict
	}

	chain = append(chain, name)
	for _, cand := range cands {
		if !s.allowed(name, cand) {
			continue
		}
		if err := s.tryCandidate(name, cand, chain); err == nil {
			return nil
		}
	}
	return errConflict
}

func (s *Solver) candidates(name string) []*candidate {
	return s.pool.candidatesFor(name, s.constraints[name])
}

// allowed applies the downgrade guard for packages that are installed and
// not explicitly demanded at a lower version.
func (s *Solver) allowed(name string, cand *candidate) bool {
	if s.flags.AllowDowngrade || cand.installed || cand.virtual {
		return true
	}
	installed, ok := s.pool.Installed(name)
	if !ok {
		return true
	}
	iv, err := specs.ParseVersion(installed.Version)
	if err != nil {
		return true
	}
	if cand.ver.Less(iv) {
		// Downgrades require an explicit versioned demand.
		for _, ms := range s.constraints[name] {
			if !ms.Version.IsAny() {
				return true
			}
		}
		return false
	}
	return true
}

func (s *Solver) tryCandidate(name string, cand *candidate, chain []string) error {
	type undo struct {
		dep   string
		count int
	}
	var undos []undo

	s.decided[name] = cand
	ok := true

	if !cand.virtual {
		deps, err := cand.rec.DependSpecs()
		if err != nil {
			s.problem("%v", err)
			ok = false
		} else {
			for _, dep := range deps {
				undos = append(undos, undo{dep: dep.Name, count: len(s.constraints[dep.Name])})
				s.constraints[dep.Name] = append(s.constraints[dep.Name], dep)
			}
			for _, dep := range deps {
				if s.removed[dep.Name] {
					s.problem("%s requires %s, which is marked for removal",
						cand.rec.DistName(), dep.Name)
					ok = false
					break
				}
				if err := s.satisfy(dep.Name, chain); err != nil {
					ok = false
					break
				}
			}
		}
	}
	if ok {
		// Run-constraints restrict without installing.
		for _, raw := range cand.rec.Constrains {
			ms, err := specs.ParseMatchSpec(raw)
			if err != nil {
				continue
			}
			if cur, decidedAlready := s.decided[ms.Name]; decidedAlready && !ms.Match(cur.rec) {
				s.problem("%s constrains %q but %s is selected",
					cand.rec.DistName(), raw, cur.rec.DistName())
				ok = false
				break
			}
			undos = append(undos, undo{dep: ms.Name, count: len(s.constraints[ms.Name])})
			s.constraints[ms.Name] = append(s.constraints[ms.Name], ms)
		}
	}
	if ok {
		return nil
	}

	// Backtrack: restore constraint lists and drop decisions made below
	// this frame.
	delete(s.decided, name)
	for i := len(undos) - 1; i >= 0; i-- {
		u := undos[i]
		s.constraints[u.dep] = s.constraints[u.dep][:u.count]
	}
	s.dropUndecidedDescendants(chain)
	return errConflict
}

// dropUndecidedDescendants clears decisions whose support may have come
// from the frame being rolled back. Decisions made by outer frames stay:
// they are re-validated by the decided-path in satisfy.
func (s *Solver) dropUndecidedDescendants(chain []string) {
	inChain := make(map[string]bool, len(chain))
	for _, n := range chain {
		inChain[n] = true
	}
	for name, cand := range s.decided {
		if inChain[name] || cand.installed {
			continue
		}
		// A decision is retained only while every constraint on it still
		// holds; cheap to re-check here.
		valid := true
		for _, ms := range s.constraints[name] {
			if !ms.Match(cand.rec) {
				valid = false
				break
			}
		}
		if !valid {
			delete(s.decided, name)
		}
	}
}

// pruneRemoved also drops installed packages orphaned by a removal:
// anything whose dependency chain reaches a removed package.
func (s *Solver) pruneRemoved() {
	if len(s.removed) == 0 {
		return
	}
	changed := true
	for changed {
		changed = false
		for name, cand := range s.decided {
			if cand.virtual {
				continue
			}
			deps, err := cand.rec.DependSpecs()
			if err != nil {
				continue
			}
			for _, dep := range deps {
				if s.removed[dep.Name] {
					if !s.flags.AllowUninstall {
						continue
					}
					delete(s.decided, name)
					s.removed[name] = true
					changed = true
					break
				}
			}
		}
	}
}

var errConflict = cmn.New(cmn.KindUnsatisfiable, "conflict")

func (s *Solver) problem(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	for _, p := range s.problems {
		if p == msg {
			return
		}
	}
	s.problems = append(s.problems, msg)
}

func (s *Solver) noCandidateProblem(name string, chain []string) {
	var b strings.Builder
	if !s.pool.HasName(name) {
		fmt.Fprintf(&b, "nothing provides %s", name)
	} else {
		fmt.Fprintf(&b, "no candidate for %s satisfies", name)
		for _, ms := range s.constraints[name] {
			fmt.Fprintf(&b, " %q", ms.String())
		}
	}
	if len(chain) > 0 {
		fmt.Fprintf(&b, " (required by %s)", strings.Join(chain, " -> "))
	}
	s.problem("%s", b.String())
}

func (s *Solver) unsatisfiable() error {
	if len(s.problems) == 0 {
		s.problems = append(s.problems, "no solution found")
	}
	return &cmn.ErrUnsatisfiable{Explanation: "  - " + strings.Join(s.problems, "\n  - ")}
}

func dedup(in []string) []string {
	out := in[:0]
	var last string
	for i, s := range in {
		if i == 0 || s != last {
			out = append(out, s)
		}
		last = s
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
