// Package solver resolves match-spec jobs against the indexed and
// installed record sets, producing an ordered transaction plan.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package solver

import (
	"sort"

	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/specs"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

type (
	// candidate is one record plus its solver-relevant standing.
	candidate struct {
		rec       *specs.PackageRecord
		ver       *specs.Version
		priority  int // higher wins; derived from channel order
		installed bool
		virtual   bool
	}

	// Pool is the solver's view of the world: every loaded index record,
	// the installed set, and the host's virtual packages. Read-only after
	// construction.
	Pool struct {
		byName map[string][]*candidate
		filter *cuckoo.Filter // fast negative name lookups
		mode   conf.ChannelPriority

		installed map[string]*specs.PackageRecord
	}
)

const poolFilterCapacity = 1 << 18

func NewPool(mode conf.ChannelPriority) *Pool {
	return &Pool{
		byName:    make(map[string][]*candidate),
		filter:    cuckoo.NewFilter(poolFilterCapacity),
		mode:      mode,
		installed: make(map[string]*specs.PackageRecord),
	}
}

// AddIndexed registers one channel-subdir's records. priority encodes the
// channel's position in the configured list (first channel highest);
// noarch subdirs rank just below their native siblings of the same
// channel, which the caller expresses by passing noarch=true.
func (p *Pool) AddIndexed(recs []*specs.PackageRecord, priority int, noarch bool) {
	// Two slots per channel: native above noarch.
	prio := priority * 2
	if !noarch {
		prio++
	}
	for _, rec := range recs {
		p.add(rec, prio, false, false)
	}
}

// AddInstalled registers the prefix's current records. They rank below
// every channel so that an identical candidate from a real channel wins
// the tie on provenance.
func (p *Pool) AddInstalled(recs []*specs.PackageRecord) {
	for _, rec := range recs {
		p.add(rec, -1, true, false)
		p.installed[rec.Name] = rec
	}
}

// AddVirtual registers host capability records.
func (p *Pool) AddVirtual(recs []*specs.PackageRecord) {
	for _, rec := range recs {
		p.add(rec, -1, false, true)
	}
}

func (p *Pool) add(rec *specs.PackageRecord, priority int, installed, virtual bool) {
	ver, err := specs.ParseVersion(rec.Version)
	if err != nil {
		return // an unparseable version cannot participate in solving
	}
	c := &candidate{
		rec:       rec,
		ver:       ver,
		priority:  priority,
		installed: installed,
		virtual:   virtual,
	}
	p.byName[rec.Name] = append(p.byName[rec.Name], c)
	p.filter.Insert([]byte(rec.Name))
}

// HasName is the cheap pre-check used while expanding dependency lists.
func (p *Pool) HasName(name string) bool {
	if !p.filter.Lookup([]byte(name)) {
		return false
	}
	_, ok := p.byName[name]
	return ok
}

func (p *Pool) Installed(name string) (*specs.PackageRecord, bool) {
	rec, ok := p.installed[name]
	return rec, ok
}

func (p *Pool) InstalledAll() map[string]*specs.PackageRecord { return p.installed }

// candidatesFor returns the viable candidates for every given spec,
// ordered best-first under the pool's priority mode. Under strict
// priority the name's candidates are confined to the highest-priority
// channel providing the name before spec filtering, so a better version
// in a lower channel cannot win.
func (p *Pool) candidatesFor(name string, constraints []*specs.MatchSpec) []*candidate {
	all := p.byName[name]
	if len(all) == 0 {
		return nil
	}
	if p.mode == conf.PriorityStrict {
		maxPrio := -1 << 30
		for _, c := range all {
			if !c.installed && !c.virtual && c.priority > maxPrio {
				maxPrio = c.priority
			}
		}
		confined := make([]*candidate, 0, len(all))
		for _, c := range all {
			if c.installed || c.virtual || c.priority == maxPrio {
				confined = append(confined, c)
			}
		}
		all = confined
	}

	out := make([]*candidate, 0, len(all))
next:
	for _, c := range all {
		for _, ms := range constraints {
			if !ms.Match(c.rec) {
				continue next
			}
		}
		out = append(out, c)
	}
	p.sortCandidates(out)
	return out
}

func (p *Pool) sortCandidates(cs []*candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch p.mode {
		case conf.PriorityStrict:
			if a.priority != b.priority {
				return a.priority > b.priority
			}
		}
		if c := a.ver.Compare(b.ver); c != 0 {
			return c > 0
		}
		if a.rec.BuildNumber != b.rec.BuildNumber {
			return a.rec.BuildNumber > b.rec.BuildNumber
		}
		if p.mode == conf.PriorityFlexible && a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.rec.Timestamp != b.rec.Timestamp {
			return a.rec.Timestamp > b.rec.Timestamp
		}
		// Prefer the copy that is already installed to avoid churn.
		return a.installed && !b.installed
	})
}
