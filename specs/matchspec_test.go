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

func TestParseMatchSpecForms(t *testing.T) {
	t.Run("bare name", func(t *testing.T) {
		ms := MustParseMatchSpec("numpy")
		assert.Equal(t, "numpy", ms.Name)
		assert.True(t, ms.Version.IsAny())
		assert.True(t, ms.IsSimpleName())
	})
	t.Run("name with operator", func(t *testing.T) {
		ms := MustParseMatchSpec("numpy>=1.21")
		assert.Equal(t, "numpy", ms.Name)
		assert.True(t, ms.Version.MatchStr("1.22"))
		assert.False(t, ms.Version.MatchStr("1.20"))
	})
	t.Run("space separated", func(t *testing.T) {
		ms := MustParseMatchSpec("python 3.9.*")
		assert.Equal(t, "python", ms.Name)
		assert.True(t, ms.Version.MatchStr("3.9.7"))
		assert.False(t, ms.Version.MatchStr("3.10.0"))
	})
	t.Run("name version build", func(t *testing.T) {
		ms := MustParseMatchSpec("numpy 1.21.0 py39*")
		assert.Equal(t, "py39*", ms.Build)
	})
	t.Run("condensed equals", func(t *testing.T) {
		ms := MustParseMatchSpec("numpy=1.21=py39_0")
		assert.Equal(t, "numpy", ms.Name)
		assert.Equal(t, "py39_0", ms.Build)
		assert.True(t, ms.Version.MatchStr("1.21.5")) // '=' is a series match
	})
	t.Run("channel qualifier", func(t *testing.T) {
		ms := MustParseMatchSpec("conda-forge/linux-64::numpy>=1.21")
		assert.Equal(t, "conda-forge", ms.Channel)
		assert.Equal(t, "linux-64", ms.Subdir)
	})
	t.Run("brackets", func(t *testing.T) {
		ms := MustParseMatchSpec(`numpy[md5=abc123, subdir=linux-64, build_number=3]`)
		assert.Equal(t, "abc123", ms.MD5)
		assert.Equal(t, "linux-64", ms.Subdir)
		assert.EqualValues(t, 3, ms.BuildNumber)
	})
	t.Run("case folding", func(t *testing.T) {
		ms := MustParseMatchSpec("NumPy")
		assert.Equal(t, "numpy", ms.Name)
	})
}

func TestParseMatchSpecErrors(t *testing.T) {
	for _, bad := range []string{"", ">=1.2", "foo[", "foo[bogus=1]", "a b c d"} {
		_, err := ParseMatchSpec(bad)
		require.Error(t, err, "%q should not parse", bad)
	}
}

func TestMatchSpecMatch(t *testing.T) {
	rec := &PackageRecord{
		Name:        "numpy",
		Version:     "1.21.2",
		Build:       "py39h_0",
		BuildNumber: 0,
		Subdir:      "linux-64",
		Channel:     "conda-forge",
		MD5:         "d41d8cd98f00b204e9800998ecf8427e",
	}
	tests := []struct {
		spec string
		want bool
	}{
		{"numpy", true},
		{"scipy", false},
		{"numpy>=1.21", true},
		{"numpy<1.21", false},
		{"numpy 1.21.*", true},
		{"numpy 1.21.* py39*", true},
		{"numpy 1.21.* py38*", false},
		{"conda-forge::numpy", true},
		{"bioconda::numpy", false},
		{"numpy[subdir=linux-64]", true},
		{"numpy[subdir=osx-64]", false},
		{"numpy[md5=d41d8cd98f00b204e9800998ecf8427e]", true},
		{"numpy[md5=deadbeef]", false},
	}
	for _, tt := range tests {
		ms := MustParseMatchSpec(tt.spec)
		assert.Equal(t, tt.want, ms.Match(rec), tt.spec)
	}
}

func TestMatchSpecIntersect(t *testing.T) {
	a := MustParseMatchSpec("numpy>=1.20")
	b := MustParseMatchSpec("numpy<1.22")
	both, err := a.Intersect(b)
	require.NoError(t, err)
	assert.True(t, both.Match(&PackageRecord{Name: "numpy", Version: "1.21.0"}))
	assert.False(t, both.Match(&PackageRecord{Name: "numpy", Version: "1.22.0"}))

	_, err = a.Intersect(MustParseMatchSpec("scipy"))
	require.Error(t, err)
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "anything", true},
		{"py39*", "py39h_0", true},
		{"py39*", "py38h_0", false},
		{"*_0", "py39h_0", true},
		{"py*h*", "py39h_0", true},
		{"exact", "exact", true},
		{"exact", "inexact", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.s), "%q vs %q", tt.pattern, tt.s)
	}
}
