// Package specs implements the package-identity model: versions, match
// specifications, and fully resolved package records.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package specs

import (
	"path"
	"strconv"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
)

// MatchSpec is a partial package constraint:
//
//	[channel[/subdir]::]name[ version-spec[ build-glob]][key=value, ...]
//
// accepted forms include "numpy", "numpy>=1.21", "python 3.9.*",
// "conda-forge::numpy=1.21=py39*", and "foo[md5=abc, subdir=linux-64]".

type MatchSpec struct {
	Name        string
	Version     *VersionSpec
	Build       string // glob over build strings; empty matches all
	BuildNumber int64  // exact; -1 when unconstrained

	Channel string
	Subdir  string

	MD5    string
	SHA256 string
	URL    string

	raw string
}

// ParseMatchSpec parses the conda match-spec syntax. The name is
// mandatory; everything else is optional.
func ParseMatchSpec(s string) (*MatchSpec, error) {
	ms := &MatchSpec{raw: s, BuildNumber: -1, Version: &VersionSpec{}}
	rest := strings.TrimSpace(s)
	if rest == "" {
		return nil, cmn.New(cmn.KindInvalidSpec, "empty match spec")
	}

	// Bracket section first so that '=' inside it never confuses the
	// version split below.
	if i := strings.IndexByte(rest, '['); i >= 0 {
		if !strings.HasSuffix(rest, "]") {
			return nil, cmn.New(cmn.KindInvalidSpec, "unterminated bracket in %q", s)
		}
		if err := ms.parseBrackets(rest[i+1 : len(rest)-1]); err != nil {
			return nil, err
		}
		rest = strings.TrimSpace(rest[:i])
	}

	// Channel qualifier.
	if i := strings.Index(rest, "::"); i >= 0 {
		ch := rest[:i]
		rest = rest[i+2:]
		if j := strings.IndexByte(ch, '/'); j >= 0 {
			ms.Channel, ms.Subdir = ch[:j], ch[j+1:]
		} else {
			ms.Channel = ch
		}
	}
	if rest == "" {
		return nil, cmn.New(cmn.KindInvalidSpec, "missing package name in %q", s)
	}

	// Space-separated "name version build" form.
	fields := strings.Fields(rest)
	switch len(fields) {
	case 1:
		return ms, ms.parseNameVersionBuild(fields[0], s)
	case 2:
		ms.Name = strings.ToLower(fields[0])
		return ms, ms.setVersion(fields[1], s)
	case 3:
		ms.Name = strings.ToLower(fields[0])
		ms.Build = fields[2]
		return ms, ms.setVersion(fields[1], s)
	}
	return nil, cmn.New(cmn.KindInvalidSpec, "too many fields in match spec %q", s)
}

func MustParseMatchSpec(s string) *MatchSpec {
	ms, err := ParseMatchSpec(s)
	cmn.AssertNoErr(err)
	return ms
}

// parseNameVersionBuild handles the condensed "name=version=build" and
// "name>=version" forms.
func (ms *MatchSpec) parseNameVersionBuild(s, raw string) error {
	i := strings.IndexAny(s, "<>=!~")
	if i < 0 {
		ms.Name = strings.ToLower(s)
		return nil
	}
	if i == 0 {
		return cmn.New(cmn.KindInvalidSpec, "missing package name in %q", raw)
	}
	ms.Name = strings.ToLower(s[:i])
	verAndBuild := s[i:]

	// "=version=build": a second bare '=' separates the build glob.
	if strings.HasPrefix(verAndBuild, "=") && !strings.HasPrefix(verAndBuild, "==") {
		parts := strings.SplitN(verAndBuild[1:], "=", 2)
		if len(parts) == 2 {
			ms.Build = parts[1]
			return ms.setVersion("="+parts[0], raw)
		}
	}
	return ms.setVersion(verAndBuild, raw)
}

func (ms *MatchSpec) setVersion(expr, raw string) error {
	vs, err := ParseVersionSpec(expr)
	if err != nil {
		return cmn.NewWrapped(cmn.KindInvalidSpec, err, "bad version in match spec %q", raw)
	}
	ms.Version = vs
	return nil
}

func (ms *MatchSpec) parseBrackets(s string) error {
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return cmn.New(cmn.KindInvalidSpec, "bad bracket attribute %q", kv)
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		switch key {
		case "md5":
			ms.MD5 = val
		case "sha256":
			ms.SHA256 = val
		case "url":
			ms.URL = val
		case "subdir":
			ms.Subdir = val
		case "channel":
			ms.Channel = val
		case "build":
			ms.Build = val
		case "version":
			if err := ms.setVersion(val, s); err != nil {
				return err
			}
		case "build_number":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return cmn.New(cmn.KindInvalidSpec, "bad build_number %q", val)
			}
			ms.BuildNumber = n
		default:
			return cmn.New(cmn.KindInvalidSpec, "unknown bracket attribute %q", key)
		}
	}
	return nil
}

func (ms *MatchSpec) String() string {
	if ms.raw != "" {
		return ms.raw
	}
	var sb strings.Builder
	if ms.Channel != "" {
		sb.WriteString(ms.Channel)
		if ms.Subdir != "" {
			sb.WriteByte('/')
			sb.WriteString(ms.Subdir)
		}
		sb.WriteString("::")
	}
	sb.WriteString(ms.Name)
	if !ms.Version.IsAny() {
		sb.WriteByte(' ')
		sb.WriteString(ms.Version.String())
	}
	if ms.Build != "" {
		sb.WriteByte(' ')
		sb.WriteString(ms.Build)
	}
	return sb.String()
}

// IsSimpleName reports whether the spec constrains nothing but the name.
func (ms *MatchSpec) IsSimpleName() bool {
	return ms.Version.IsAny() && ms.Build == "" && ms.BuildNumber < 0 &&
		ms.Channel == "" && ms.Subdir == "" && ms.MD5 == "" && ms.SHA256 == "" && ms.URL == ""
}

// Match reports whether the record satisfies every predicate of the spec.
// Channel qualifiers compare against the record's channel display name.
func (ms *MatchSpec) Match(rec *PackageRecord) bool {
	if ms.Name != "" && ms.Name != rec.Name {
		return false
	}
	if !ms.Version.MatchStr(rec.Version) {
		return false
	}
	if ms.Build != "" && !globMatch(ms.Build, rec.Build) {
		return false
	}
	if ms.BuildNumber >= 0 && ms.BuildNumber != rec.BuildNumber {
		return false
	}
	if ms.Subdir != "" && ms.Subdir != rec.Subdir {
		return false
	}
	if ms.Channel != "" && !channelMatches(ms.Channel, rec.Channel) {
		return false
	}
	if ms.MD5 != "" && ms.MD5 != rec.MD5 {
		return false
	}
	if ms.SHA256 != "" && ms.SHA256 != rec.SHA256 {
		return false
	}
	if ms.URL != "" && ms.URL != rec.URL {
		return false
	}
	return true
}

// Intersect composes two specs for the same name; predicates are joined.
func (ms *MatchSpec) Intersect(other *MatchSpec) (*MatchSpec, error) {
	if ms.Name != other.Name {
		return nil, cmn.New(cmn.KindInvalidSpec,
			"cannot intersect specs for different packages: %s vs %s", ms.Name, other.Name)
	}
	out := &MatchSpec{
		Name:        ms.Name,
		Version:     ms.Version.Intersect(other.Version),
		Build:       firstNonEmpty(ms.Build, other.Build),
		BuildNumber: ms.BuildNumber,
		Channel:     firstNonEmpty(ms.Channel, other.Channel),
		Subdir:      firstNonEmpty(ms.Subdir, other.Subdir),
		MD5:         firstNonEmpty(ms.MD5, other.MD5),
		SHA256:      firstNonEmpty(ms.SHA256, other.SHA256),
		URL:         firstNonEmpty(ms.URL, other.URL),
	}
	if out.BuildNumber < 0 {
		out.BuildNumber = other.BuildNumber
	}
	return out, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// channelMatches compares a spec channel qualifier against a record's
// channel, accepting both bare names and full URLs.
func channelMatches(want, have string) bool {
	if want == have {
		return true
	}
	// Record channels may be URLs; compare the last path element.
	return path.Base(strings.TrimRight(have, "/")) == want ||
		path.Base(strings.TrimRight(want, "/")) == path.Base(strings.TrimRight(have, "/"))
}

// globMatch supports '*' wildcards only, which is all the build-string
// syntax allows.
func globMatch(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
