// Package conf implements the layered marmot configuration: compiled-in
// defaults, rc files, and environment overrides, in that order.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	cfg.RootPrefix = "/tmp/root"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsContradictions(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.RootPrefix = "/tmp/root"
		return cfg
	}

	cfg := base()
	cfg.Link.AlwaysCopy = true
	cfg.Link.AlwaysSoftlink = true
	cfg.Link.AllowSoftlinks = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, cmn.KindConfiguration, cmn.KindOf(err))

	cfg = base()
	cfg.Link.AlwaysSoftlink = true // without allow_softlinks
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.ChannelPriority = "bogus"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Remote.DownloadThreads = 0
	require.Error(t, cfg.Validate())
}

func TestRepodataTTLDecoding(t *testing.T) {
	cfg := Default()
	cfg.LocalRepodataTTL = 0
	assert.Equal(t, TTLAlwaysFetch, cfg.RepodataTTL().Mode)

	cfg.LocalRepodataTTL = 1
	assert.Equal(t, TTLRespectServer, cfg.RepodataTTL().Mode)

	cfg.LocalRepodataTTL = 3600
	ttl := cfg.RepodataTTL()
	assert.Equal(t, TTLSeconds, ttl.Mode)
	assert.EqualValues(t, 3600, ttl.Seconds)
}

func TestLoadLayering(t *testing.T) {
	home := t.TempDir()
	rc1 := filepath.Join(home, "first.condarc")
	rc2 := filepath.Join(home, "second.condarc")
	require.NoError(t, os.WriteFile(rc1, []byte(`
channels: [conda-forge]
channel_priority: strict
download_threads: 9
`), 0o644))
	require.NoError(t, os.WriteFile(rc2, []byte(`
channels: [bioconda, conda-forge]
`), 0o644))

	cfg, err := Load(LoadOpts{
		RCFiles: []string{rc1, rc2},
		Environ: map[string]string{"MAMBA_ROOT_PREFIX": filepath.Join(home, "mm")},
		HomeDir: home,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bioconda", "conda-forge"}, cfg.Channels, "later file wins")
	assert.Equal(t, PriorityStrict, cfg.ChannelPriority, "earlier value survives when unset later")
	assert.Equal(t, 9, cfg.Remote.DownloadThreads)
	assert.Equal(t, rc2, cfg.Sources["channels"])
	assert.Equal(t, rc1, cfg.Sources["channel_priority"])
}

func TestLoadEnvOverrides(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(LoadOpts{
		RCFiles: []string{},
		Environ: map[string]string{
			"MAMBA_ROOT_PREFIX":   filepath.Join(home, "mm"),
			"CONDA_CHANNELS":      "a, b",
			"MAMBA_CHANNEL_ALIAS": "https://mirror.example.org",
			"CONDA_SUBDIR":        "osx-arm64",
			"MAMBA_SSL_VERIFY":    "<false>",
			"CONDA_OFFLINE":       "true",
		},
		HomeDir: home,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.Channels)
	assert.Equal(t, "https://mirror.example.org", cfg.ChannelAlias)
	assert.Equal(t, "osx-arm64", cfg.Platform)
	assert.Equal(t, SSLVerifyFalse, cfg.Remote.SSLVerify)
	assert.True(t, cfg.Offline)
	assert.Equal(t, "env", cfg.Sources["CONDA_CHANNELS"])
}

func TestLoadRejectsMalformedRC(t *testing.T) {
	home := t.TempDir()
	bad := filepath.Join(home, "bad.condarc")
	require.NoError(t, os.WriteFile(bad, []byte("channels: ["), 0o644))
	_, err := Load(LoadOpts{
		RCFiles: []string{bad},
		Environ: map[string]string{"MAMBA_ROOT_PREFIX": home},
		HomeDir: home,
	})
	require.Error(t, err)
	assert.Equal(t, cmn.KindConfiguration, cmn.KindOf(err))
}

func TestLoadDefaultsPkgsDirs(t *testing.T) {
	home := t.TempDir()
	root := filepath.Join(home, "mm")
	cfg, err := Load(LoadOpts{
		RCFiles: []string{},
		Environ: map[string]string{"MAMBA_ROOT_PREFIX": root},
		HomeDir: home,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "pkgs")}, cfg.PkgsDirs)
	assert.Equal(t, filepath.Join(root, "pkgs"), cfg.FirstPkgsDir())
	assert.Equal(t, filepath.Join(root, "envs"), cfg.EnvsDir())
}
