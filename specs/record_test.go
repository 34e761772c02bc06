// Package specs implements the package-identity model: versions, match
// specifications, and fully resolved package records.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package specs

import (
	"testing"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *PackageRecord {
	return &PackageRecord{
		Name:        "foo",
		Version:     "1.0",
		Build:       "hbld_0",
		BuildNumber: 0,
		Subdir:      "linux-64",
		Channel:     "conda-forge",
		Filename:    "foo-1.0-hbld_0.conda",
		URL:         "https://repo.example.com/conda-forge/linux-64/foo-1.0-hbld_0.conda",
		Size:        1234,
		MD5:         "d41d8cd98f00b204e9800998ecf8427e",
		Depends:     []string{"bar >=2.0", "baz"},
		Noarch:      "",
		License:     "BSD-3-Clause",
		Timestamp:   1700000000000,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	rec := sampleRecord()
	data := cmn.MustMarshal(rec)
	var back PackageRecord
	require.NoError(t, cmn.JSON.Unmarshal(data, &back))
	assert.Equal(t, *rec, back)
}

func TestRecordAccessors(t *testing.T) {
	rec := sampleRecord()
	assert.Equal(t, "foo-1.0-hbld_0", rec.DistName())
	assert.Equal(t, ExtConda, rec.ArchiveExt())
	assert.False(t, rec.IsVirtual())
	assert.Equal(t, cmn.ChecksumMD5, rec.Cksum().Algo)

	rec.SHA256 = "aa"
	assert.Equal(t, cmn.ChecksumSHA256, rec.Cksum().Algo, "sha256 outranks md5")

	virt := &PackageRecord{Name: "__glibc", Version: "2.35"}
	assert.True(t, virt.IsVirtual())
	assert.True(t, virt.Cksum().IsEmpty())
}

func TestRecordDependSpecs(t *testing.T) {
	rec := sampleRecord()
	deps, err := rec.DependSpecs()
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "bar", deps[0].Name)
	assert.True(t, deps[0].Version.MatchStr("2.5"))

	rec.Depends = []string{"===nonsense"}
	_, err = rec.DependSpecs()
	require.Error(t, err)
}

func TestRecordSameContent(t *testing.T) {
	a, b := sampleRecord(), sampleRecord()
	assert.True(t, a.SameContent(b))
	b.MD5 = "deadbeef"
	assert.False(t, a.SameContent(b))
	b = sampleRecord()
	b.Version = "2.0"
	assert.False(t, a.SameContent(b))
}
