// Package specs implements the package-identity model: versions, match
// specifications, and fully resolved package records.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package specs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.0.0", 0},
		{"1.0", "1.1", -1},
		{"1.1", "1.0", 1},
		{"1.9", "1.10", -1},
		{"1.0a", "1.0", -1},
		{"1.0.dev1", "1.0a1", 1},
		{"1.0", "1.0.post1", -1},
		{"2!1.0", "3.0", 1},
		{"1.0rc1", "1.0", -1},
		{"1_0_1", "1.0.1", 0},
		{"1.2.3", "1.2.4", -1},
	}
	for _, tt := range tests {
		a := MustParseVersion(tt.a)
		b := MustParseVersion(tt.b)
		assert.Equal(t, tt.want, a.Compare(b), "%s vs %s", tt.a, tt.b)
		assert.Equal(t, -tt.want, b.Compare(a), "%s vs %s reversed", tt.b, tt.a)
	}
}

func TestVersionStartsWith(t *testing.T) {
	tests := []struct {
		v, prefix string
		want      bool
	}{
		{"1.2.3", "1.2", true},
		{"1.2", "1.2", true},
		{"1.20.3", "1.2", false},
		{"1.2.3", "1.3", false},
		{"3.9.7", "3.9", true},
		{"3.10.1", "3.1", false},
	}
	for _, tt := range tests {
		v := MustParseVersion(tt.v)
		p := MustParseVersion(tt.prefix)
		assert.Equal(t, tt.want, v.StartsWith(p), "%s startswith %s", tt.v, tt.prefix)
	}
}

func TestVersionParseErrors(t *testing.T) {
	for _, bad := range []string{"", "  ", "x!1.0"} {
		_, err := ParseVersion(bad)
		require.Error(t, err, "%q should not parse", bad)
	}
}

func TestVersionSpec(t *testing.T) {
	tests := []struct {
		spec, version string
		want          bool
	}{
		{">=1.2,<2", "1.5", true},
		{">=1.2,<2", "2.0", false},
		{">=1.2|>=3", "3.1", true},
		{"1.2.*", "1.2.9", true},
		{"1.2.*", "1.3.0", false},
		{"==1.2.3", "1.2.3", true},
		{"!=1.2.3", "1.2.3", false},
		{"~=1.2.3", "1.2.9", true},
		{"~=1.2.3", "1.3.0", false},
		{"*", "0.0.1", true},
		{"", "42", true},
		{"1.2", "1.2", true},
		{"1.2", "1.2.1", false},
	}
	for _, tt := range tests {
		vs, err := ParseVersionSpec(tt.spec)
		require.NoError(t, err, tt.spec)
		assert.Equal(t, tt.want, vs.MatchStr(tt.version), "%q match %q", tt.spec, tt.version)
	}
}

func TestVersionSpecIntersect(t *testing.T) {
	a, err := ParseVersionSpec(">=1.2")
	require.NoError(t, err)
	b, err := ParseVersionSpec("<2")
	require.NoError(t, err)
	both := a.Intersect(b)
	assert.True(t, both.MatchStr("1.5"))
	assert.False(t, both.MatchStr("2.1"))
	assert.False(t, both.MatchStr("1.0"))
}
