// Package specs implements the package-identity model: versions, match
// specifications, and fully resolved package records.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package specs

import (
	"strings"

	"github.com/marmot-pm/marmot/cmn"
)

// VersionSpec is a predicate over versions. The grammar is the conda one:
// '|' separates alternatives, ',' separates conjuncts, and the atoms are
// relational operators (==, !=, <, <=, >, >=), the compatibility operator
// ~=, glob prefixes (1.2.* or 1.2*), and bare versions (exact match).

type (
	versionAtom struct {
		op  string
		ver *Version
	}

	VersionSpec struct {
		raw string
		// disjunction of conjunctions
		groups [][]versionAtom
	}
)

const (
	opEQ = "=="
	opNE = "!="
	opLT = "<"
	opLE = "<="
	opGT = ">"
	opGE = ">="
	opSW = "=" // startswith series (also produced by trailing ".*")
	opCT = "~="
)

// ParseVersionSpec parses the constraint expression; an empty or "*"
// expression matches everything.
func ParseVersionSpec(s string) (*VersionSpec, error) {
	raw := s
	s = strings.TrimSpace(s)
	vs := &VersionSpec{raw: raw}
	if s == "" || s == "*" {
		return vs, nil
	}
	for _, alt := range strings.Split(s, "|") {
		var group []versionAtom
		for _, part := range strings.Split(alt, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				return nil, cmn.New(cmn.KindInvalidSpec, "empty clause in version spec %q", raw)
			}
			atom, err := parseVersionAtom(part)
			if err != nil {
				return nil, err
			}
			group = append(group, atom)
		}
		vs.groups = append(vs.groups, group)
	}
	return vs, nil
}

func parseVersionAtom(s string) (versionAtom, error) {
	var op string
	switch {
	case strings.HasPrefix(s, opCT):
		op, s = opCT, s[2:]
	case strings.HasPrefix(s, opEQ):
		op, s = opEQ, s[2:]
	case strings.HasPrefix(s, opNE):
		op, s = opNE, s[2:]
	case strings.HasPrefix(s, opLE):
		op, s = opLE, s[2:]
	case strings.HasPrefix(s, opGE):
		op, s = opGE, s[2:]
	case strings.HasPrefix(s, opLT):
		op, s = opLT, s[1:]
	case strings.HasPrefix(s, opGT):
		op, s = opGT, s[1:]
	case strings.HasPrefix(s, opSW):
		op, s = opSW, s[1:]
	default:
		op = opEQ
	}
	s = strings.TrimSpace(s)

	// Trailing globs turn exact matches into series matches.
	if strings.HasSuffix(s, ".*") {
		s = strings.TrimSuffix(s, ".*")
		if op == opEQ {
			op = opSW
		}
	} else if strings.HasSuffix(s, "*") {
		s = strings.TrimSuffix(s, "*")
		s = strings.TrimSuffix(s, ".")
		if op == opEQ {
			op = opSW
		}
	}
	ver, err := ParseVersion(s)
	if err != nil {
		return versionAtom{}, err
	}
	return versionAtom{op: op, ver: ver}, nil
}

func (vs *VersionSpec) IsAny() bool { return len(vs.groups) == 0 }

func (vs *VersionSpec) String() string {
	if vs.IsAny() {
		return "*"
	}
	return vs.raw
}

func (vs *VersionSpec) Match(v *Version) bool {
	if vs.IsAny() {
		return true
	}
	for _, group := range vs.groups {
		ok := true
		for _, atom := range group {
			if !atom.match(v) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// MatchStr parses then matches; unparseable candidate versions never match.
func (vs *VersionSpec) MatchStr(s string) bool {
	if vs.IsAny() {
		return true
	}
	v, err := ParseVersion(s)
	if err != nil {
		return false
	}
	return vs.Match(v)
}

func (a versionAtom) match(v *Version) bool {
	switch a.op {
	case opEQ:
		return v.Compare(a.ver) == 0
	case opNE:
		return v.Compare(a.ver) != 0
	case opLT:
		return v.Compare(a.ver) < 0
	case opLE:
		return v.Compare(a.ver) <= 0
	case opGT:
		return v.Compare(a.ver) > 0
	case opGE:
		return v.Compare(a.ver) >= 0
	case opSW:
		return v.StartsWith(a.ver)
	case opCT:
		// ~=1.2.3 is >=1.2.3 within the 1.2 series.
		if v.Compare(a.ver) < 0 {
			return false
		}
		if len(a.ver.segments) < 2 {
			return true
		}
		series := &Version{
			raw:      a.ver.raw,
			epoch:    a.ver.epoch,
			segments: a.ver.segments[:len(a.ver.segments)-1],
		}
		return v.StartsWith(series)
	}
	cmn.Assertf(false, "unknown version operator %q", a.op)
	return false
}

// Intersect composes two specs by predicate conjunction.
func (vs *VersionSpec) Intersect(other *VersionSpec) *VersionSpec {
	switch {
	case vs.IsAny():
		return other
	case other.IsAny():
		return vs
	}
	out := &VersionSpec{raw: vs.raw + "," + other.raw}
	for _, ga := range vs.groups {
		for _, gb := range other.groups {
			group := make([]versionAtom, 0, len(ga)+len(gb))
			group = append(group, ga...)
			group = append(group, gb...)
			out.groups = append(out.groups, group)
		}
	}
	return out
}
