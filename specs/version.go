// Package specs implements the package-identity model: versions, match
// specifications, and fully resolved package records.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package specs

import (
	"strconv"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/pkg/errors"
)

// Version ordering follows the conda scheme: an optional epoch separated by
// '!', then dot-separated segments, each segment further split into numeric
// and alphabetic subcomponents. Numeric subcomponents compare numerically
// and beat alphabetic ones; "dev" sorts below everything, "post" above
// everything at the same position.

type (
	component struct {
		num int64
		str string // empty means numeric component
	}

	Version struct {
		raw      string
		epoch    int64
		segments [][]component
	}
)

const (
	compDev  = "dev"
	compPost = "post"
)

// ParseVersion parses and canonicalizes a version string. Underscores and
// dashes are treated as segment separators, case is folded.
func ParseVersion(s string) (*Version, error) {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, cmn.New(cmn.KindInvalidSpec, "empty version string")
	}
	v := &Version{raw: raw}
	if i := strings.IndexByte(s, '!'); i >= 0 {
		epoch, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return nil, cmn.New(cmn.KindInvalidSpec, "invalid epoch in version %q", raw)
		}
		v.epoch = epoch
		s = s[i+1:]
	}
	s = strings.NewReplacer("_", ".", "-", ".").Replace(s)
	for _, seg := range strings.Split(s, ".") {
		comps, err := splitComponents(seg)
		if err != nil {
			return nil, errors.Wrapf(err, "version %q", raw)
		}
		v.segments = append(v.segments, comps)
	}
	return v, nil
}

// MustParseVersion is for literals in tests and defaults.
func MustParseVersion(s string) *Version {
	v, err := ParseVersion(s)
	cmn.AssertNoErr(err)
	return v
}

func splitComponents(seg string) ([]component, error) {
	if seg == "" {
		return []component{{num: 0}}, nil
	}
	var (
		comps []component
		i     = 0
	)
	for i < len(seg) {
		j := i
		if isDigit(seg[i]) {
			for j < len(seg) && isDigit(seg[j]) {
				j++
			}
			n, err := strconv.ParseInt(seg[i:j], 10, 64)
			if err != nil {
				return nil, cmn.New(cmn.KindInvalidSpec, "numeric overflow in segment %q", seg)
			}
			comps = append(comps, component{num: n})
		} else {
			for j < len(seg) && !isDigit(seg[j]) {
				j++
			}
			comps = append(comps, component{str: seg[i:j]})
		}
		i = j
	}
	return comps, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func (v *Version) String() string { return v.raw }

func (v *Version) Epoch() int64 { return v.epoch }

// Compare returns -1, 0 or +1.
func (v *Version) Compare(other *Version) int {
	if v.epoch != other.epoch {
		return cmpInt64(v.epoch, other.epoch)
	}
	n := len(v.segments)
	if len(other.segments) > n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		a, b := segmentAt(v.segments, i), segmentAt(other.segments, i)
		if c := compareSegment(a, b); c != 0 {
			return c
		}
	}
	return 0
}

func (v *Version) Equal(other *Version) bool { return v.Compare(other) == 0 }

func (v *Version) Less(other *Version) bool { return v.Compare(other) < 0 }

// StartsWith reports whether v lies in the prefix series of other,
// e.g. 1.2.3 starts with 1.2 but not with 1.20.
func (v *Version) StartsWith(prefix *Version) bool {
	if v.epoch != prefix.epoch {
		return false
	}
	if len(prefix.segments) > len(v.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		var a, b = v.segments[i], seg
		if i == len(prefix.segments)-1 {
			// The last prefix segment may itself be a prefix of the
			// corresponding component list (1.2 vs 1.2dev).
			if len(b) > len(a) {
				return false
			}
			for j := range b {
				if compareComponent(a[j], b[j]) != 0 {
					return false
				}
			}
			return true
		}
		if compareSegment(a, b) != 0 {
			return false
		}
	}
	return true
}

var zeroSegment = []component{{num: 0}}

func segmentAt(segs [][]component, i int) []component {
	if i < len(segs) {
		return segs[i]
	}
	return zeroSegment
}

func compareSegment(a, b []component) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var ca, cb component
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		if c := compareComponent(ca, cb); c != 0 {
			return c
		}
	}
	return 0
}

func compareComponent(a, b component) int {
	an, bn := a.str == "", b.str == ""
	switch {
	case an && bn:
		return cmpInt64(a.num, b.num)
	case an: // number beats string unless the string is "post"
		if b.str == compPost {
			return -1
		}
		return 1
	case bn:
		if a.str == compPost {
			return 1
		}
		return -1
	}
	return cmpAlpha(a.str, b.str)
}

func cmpAlpha(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := alphaRank(a), alphaRank(b)
	if ra != rb {
		return cmpInt64(int64(ra), int64(rb))
	}
	if a < b {
		return -1
	}
	return 1
}

// dev < any other string < post
func alphaRank(s string) int {
	switch s {
	case compDev:
		return -1
	case compPost:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
