// Package ops implements the user-level operations — install, create,
// update, remove, list, clean, info — on top of the engine packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/prefix"
	"github.com/marmot-pm/marmot/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOperation(t *testing.T) *Operation {
	t.Helper()
	cfg := conf.Default()
	cfg.RootPrefix = t.TempDir()
	cfg.TargetPrefix = cfg.RootPrefix
	cfg.PkgsDirs = []string{filepath.Join(cfg.RootPrefix, "pkgs")}
	cfg.Channels = []string{"conda-forge"}
	cfg.ChannelAlias = "https://repo.example.com"
	op, err := New(cfg, map[string]string{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(op.Close)
	return op
}

func TestChannelsResolution(t *testing.T) {
	op := testOperation(t)
	chans, err := op.Channels(nil)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "https://repo.example.com/conda-forge", chans[0].URL)

	chans, err = op.Channels([]string{"bioconda"})
	require.NoError(t, err)
	require.Len(t, chans, 2)
	assert.Equal(t, "bioconda", chans[0].DisplayName, "extras rank first")
}

func TestResolvePrefix(t *testing.T) {
	op := testOperation(t)

	p, err := op.resolvePrefix("myenv", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(op.Config.EnvsDir(), "myenv"), p)

	p, err = op.resolvePrefix("base", "")
	require.NoError(t, err)
	assert.Equal(t, op.Config.RootPrefix, p)

	_, err = op.resolvePrefix("x", "/tmp/y")
	require.Error(t, err)
	_, err = op.resolvePrefix("", "")
	require.Error(t, err)
}

func TestMajorMinor(t *testing.T) {
	tests := []struct{ in, want string }{
		{"3.9.7", "3.9"},
		{"3.10", "3.10"},
		{"3", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, majorMinor(specs.MustParseVersion(tt.in)), tt.in)
	}
}

func TestPinsFromFileAndPython(t *testing.T) {
	op := testOperation(t)
	root := op.Config.TargetPrefix
	require.NoError(t, os.MkdirAll(filepath.Join(root, prefix.MetaDirName), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, prefix.MetaDirName, "pinned"),
		[]byte("# comment\nnumpy <2\n"), 0o644))

	pd, err := prefix.Load(root, op.Log)
	require.NoError(t, err)
	require.NoError(t, pd.InsertRecord(&prefix.Record{
		PackageRecord: specs.PackageRecord{
			Name: "python", Version: "3.9.7", Build: "h_0",
			Subdir: "linux-64", Channel: "test",
		},
	}))

	jobs := op.pins(pd, map[string]bool{})
	var pinned []string
	for _, j := range jobs {
		pinned = append(pinned, j.Spec.String())
	}
	assert.Contains(t, pinned, "numpy <2")
	assert.Contains(t, pinned, "python 3.9.*")

	// An explicit python request suppresses the implicit pin.
	jobs = op.pins(pd, map[string]bool{"python": true})
	for _, j := range jobs {
		assert.NotEqual(t, "python", j.Spec.Name)
	}
}

func TestKnownPrefixes(t *testing.T) {
	op := testOperation(t)
	envDir := filepath.Join(op.Config.EnvsDir(), "one")
	require.NoError(t, os.MkdirAll(filepath.Join(envDir, prefix.MetaDirName), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(op.Config.EnvsDir(), "not-a-prefix"), 0o755))

	known := op.KnownPrefixes()
	assert.Contains(t, known, op.Config.RootPrefix)
	assert.Contains(t, known, envDir)
	assert.NotContains(t, known, filepath.Join(op.Config.EnvsDir(), "not-a-prefix"))
}
