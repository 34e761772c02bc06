// Package txn serializes a solver solution into FETCH, EXTRACT, UNLINK
// and LINK phases executed against a prefix with crash safety and history
// journalling.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package txn

import (
	"fmt"
	"io"
	"sort"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/solver"
	"github.com/marmot-pm/marmot/specs"
)

type (
	ActionKind int

	// Action is one step of the plan. Fetch actions precede the Link of
	// the same record; Unlinks precede any Link that would overwrite the
	// same paths.
	Action struct {
		Kind   ActionKind
		Record *specs.PackageRecord
	}

	// Transaction is the ordered, consumable plan. It borrows records
	// from the pool and the prefix; both outlive it.
	Transaction struct {
		ID string

		install []*specs.PackageRecord // link order (dependencies first)
		remove  []*specs.PackageRecord // unlink order (dependents first)

		// History bookkeeping.
		Cmd         string
		UpdateSpecs []string
		RemoveSpecs []string

		consumed bool
	}
)

const (
	ActionFetch ActionKind = iota
	ActionUnlink
	ActionLink
)

func (k ActionKind) String() string {
	switch k {
	case ActionFetch:
		return "FETCH"
	case ActionUnlink:
		return "UNLINK"
	case ActionLink:
		return "LINK"
	}
	return "?"
}

// FromSolution wraps a solver verdict into an executable transaction.
func FromSolution(sol *solver.Solution, cmd string, updateSpecs, removeSpecs []string) *Transaction {
	return &Transaction{
		ID:          cmn.GenTie(),
		install:     sol.Install,
		remove:      sol.Remove,
		Cmd:         cmd,
		UpdateSpecs: updateSpecs,
		RemoveSpecs: removeSpecs,
	}
}

// FromExplicit builds the solver-free plan used by @EXPLICIT installs:
// fetch and link exactly the given records, in the given order.
func FromExplicit(recs []*specs.PackageRecord, cmd string) *Transaction {
	specsList := make([]string, 0, len(recs))
	for _, rec := range recs {
		specsList = append(specsList, rec.Name)
	}
	return &Transaction{
		ID:          cmn.GenTie(),
		install:     recs,
		Cmd:         cmd,
		UpdateSpecs: specsList,
	}
}

func (t *Transaction) Empty() bool { return len(t.install) == 0 && len(t.remove) == 0 }

// Actions renders the phase-ordered action list.
func (t *Transaction) Actions() []Action {
	out := make([]Action, 0, 2*len(t.install)+len(t.remove))
	for _, rec := range t.install {
		out = append(out, Action{Kind: ActionFetch, Record: rec})
	}
	for _, rec := range t.remove {
		out = append(out, Action{Kind: ActionUnlink, Record: rec})
	}
	for _, rec := range t.install {
		out = append(out, Action{Kind: ActionLink, Record: rec})
	}
	return out
}

func (t *Transaction) Install() []*specs.PackageRecord { return t.install }
func (t *Transaction) Remove() []*specs.PackageRecord  { return t.remove }

// Prompt renders the plan grouped by channel. The caller decides whether
// to ask for confirmation; rendering is all that happens here.
func (t *Transaction) Prompt(w io.Writer) {
	if t.Empty() {
		fmt.Fprintln(w, "Nothing to do.")
		return
	}
	if len(t.remove) > 0 {
		fmt.Fprintf(w, "  Remove: %d package(s)\n\n", len(t.remove))
		for _, rec := range sortedByName(t.remove) {
			fmt.Fprintf(w, "  - %-24s %-14s %s\n", rec.Name, rec.Version, rec.Channel)
		}
		fmt.Fprintln(w)
	}
	if len(t.install) > 0 {
		var total int64
		fmt.Fprintf(w, "  Install: %d package(s)\n\n", len(t.install))
		for _, rec := range sortedByName(t.install) {
			size := ""
			if rec.Size > 0 {
				size = humanize.IBytes(uint64(rec.Size))
				total += rec.Size
			}
			fmt.Fprintf(w, "  + %-24s %-14s %-20s %8s\n", rec.Name, rec.Version, rec.Channel, size)
		}
		fmt.Fprintf(w, "\n  Total download: %s\n", humanize.IBytes(uint64(total)))
	}
}

// Dists lists "<channel>::<dist>" identities for the history journal.
func dists(recs []*specs.PackageRecord) []string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		ch := rec.Channel
		if ch == "" {
			ch = "<unknown>"
		}
		out = append(out, ch+"::"+rec.DistName())
	}
	sort.Strings(out)
	return out
}

func sortedByName(recs []*specs.PackageRecord) []*specs.PackageRecord {
	out := make([]*specs.PackageRecord, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Transaction) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction %s: +%d -%d", t.ID, len(t.install), len(t.remove))
	return b.String()
}
