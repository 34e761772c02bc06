// Package solver resolves match-spec jobs against the indexed and
// installed record sets, producing an ordered transaction plan.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package solver

import (
	"testing"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/conf"
	"github.com/marmot-pm/marmot/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rec(name, version, build string, deps ...string) *specs.PackageRecord {
	return &specs.PackageRecord{
		Name:    name,
		Version: version,
		Build:   build,
		Subdir:  "linux-64",
		Channel: "test",
		URL:     "https://repo.example.com/test/linux-64/" + name + "-" + version + "-" + build + ".conda",
		Depends: deps,
	}
}

func installJob(t *testing.T, raw string) Job {
	t.Helper()
	return Job{Kind: JobInstall, Spec: specs.MustParseMatchSpec(raw)}
}

func names(recs []*specs.PackageRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestSolveSimpleInstallWithDeps(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	pool.AddIndexed([]*specs.PackageRecord{
		rec("app", "1.0", "0", "libfoo >=2.0", "libbar"),
		rec("libfoo", "2.5", "0"),
		rec("libfoo", "1.9", "0"),
		rec("libbar", "3.0", "0", "libfoo >=2.0"),
	}, 1, false)

	sol, err := New(pool, Flags{AllowUninstall: true}, zap.NewNop().Sugar()).
		Solve([]Job{installJob(t, "app")})
	require.NoError(t, err)
	require.Len(t, sol.Install, 3)
	assert.Empty(t, sol.Remove)

	// Topological: libfoo before libbar before app.
	order := names(sol.Install)
	assert.Equal(t, []string{"libfoo", "libbar", "app"}, order)
	for _, r := range sol.Install {
		if r.Name == "libfoo" {
			assert.Equal(t, "2.5", r.Version, "newest satisfying version wins")
		}
	}
}

func TestSolvePrefersNewestVersion(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	pool.AddIndexed([]*specs.PackageRecord{
		rec("pkg", "1.0", "0"),
		rec("pkg", "2.0", "0"),
		rec("pkg", "1.5", "0"),
	}, 1, false)
	sol, err := New(pool, Flags{}, zap.NewNop().Sugar()).Solve([]Job{installJob(t, "pkg")})
	require.NoError(t, err)
	require.Len(t, sol.Install, 1)
	assert.Equal(t, "2.0", sol.Install[0].Version)
}

func TestSolveVersionConstraint(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	pool.AddIndexed([]*specs.PackageRecord{
		rec("pkg", "1.0", "0"),
		rec("pkg", "2.0", "0"),
	}, 1, false)
	sol, err := New(pool, Flags{}, zap.NewNop().Sugar()).Solve([]Job{installJob(t, "pkg<2")})
	require.NoError(t, err)
	require.Len(t, sol.Install, 1)
	assert.Equal(t, "1.0", sol.Install[0].Version)
}

// Strict vs flexible priority (spec scenario): channel A (higher) has
// foo-1.0, channel B (lower) has foo-2.0; the user wants foo>=2.
func TestSolveChannelPriority(t *testing.T) {
	build := func(mode conf.ChannelPriority) *Pool {
		pool := NewPool(mode)
		a := rec("foo", "1.0", "0")
		a.Channel = "A"
		b := rec("foo", "2.0", "0")
		b.Channel = "B"
		pool.AddIndexed([]*specs.PackageRecord{a}, 2, false)
		pool.AddIndexed([]*specs.PackageRecord{b}, 1, false)
		return pool
	}

	_, err := New(build(conf.PriorityStrict), Flags{}, zap.NewNop().Sugar()).
		Solve([]Job{installJob(t, "foo>=2")})
	require.Error(t, err)
	assert.Equal(t, cmn.KindUnsatisfiable, cmn.KindOf(err))

	sol, err := New(build(conf.PriorityFlexible), Flags{}, zap.NewNop().Sugar()).
		Solve([]Job{installJob(t, "foo>=2")})
	require.NoError(t, err)
	require.Len(t, sol.Install, 1)
	assert.Equal(t, "2.0", sol.Install[0].Version)
	assert.Equal(t, "B", sol.Install[0].Channel)
}

func TestSolveUnsatisfiableExplanation(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	pool.AddIndexed([]*specs.PackageRecord{
		rec("app", "1.0", "0", "ghost >=1.0"),
	}, 1, false)
	_, err := New(pool, Flags{}, zap.NewNop().Sugar()).Solve([]Job{installJob(t, "app")})
	require.Error(t, err)
	var unsat *cmn.ErrUnsatisfiable
	require.ErrorAs(t, err, &unsat)
	assert.Contains(t, unsat.Explanation, "ghost")
	assert.Contains(t, unsat.Explanation, "app")
}

func TestSolveBacktracksOverVersions(t *testing.T) {
	// app 2.0 depends on a lib that does not exist; app 1.0 is fine. The
	// solver must fall back rather than fail.
	pool := NewPool(conf.PriorityFlexible)
	pool.AddIndexed([]*specs.PackageRecord{
		rec("app", "2.0", "0", "missing-lib"),
		rec("app", "1.0", "0", "lib"),
		rec("lib", "1.0", "0"),
	}, 1, false)
	sol, err := New(pool, Flags{}, zap.NewNop().Sugar()).Solve([]Job{installJob(t, "app")})
	require.NoError(t, err)
	byName := map[string]string{}
	for _, r := range sol.Install {
		byName[r.Name] = r.Version
	}
	assert.Equal(t, "1.0", byName["app"])
	assert.Equal(t, "1.0", byName["lib"])
}

func TestSolveVirtualPackages(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	pool.AddIndexed([]*specs.PackageRecord{
		rec("cudatoolkit", "11.2", "0", "__cuda >=11"),
	}, 1, false)

	t.Run("satisfied", func(t *testing.T) {
		p := pool
		p.AddVirtual([]*specs.PackageRecord{
			{Name: "__cuda", Version: "11.4", Build: "0", Channel: "@"},
		})
		sol, err := New(p, Flags{}, zap.NewNop().Sugar()).
			Solve([]Job{installJob(t, "cudatoolkit")})
		require.NoError(t, err)
		require.Len(t, sol.Install, 1, "virtual records are never linked")
		assert.Equal(t, "cudatoolkit", sol.Install[0].Name)
	})

	t.Run("missing", func(t *testing.T) {
		p := NewPool(conf.PriorityFlexible)
		p.AddIndexed([]*specs.PackageRecord{
			rec("cudatoolkit", "11.2", "0", "__cuda >=11"),
		}, 1, false)
		_, err := New(p, Flags{}, zap.NewNop().Sugar()).
			Solve([]Job{installJob(t, "cudatoolkit")})
		require.Error(t, err)
	})
}

func TestSolveRemoveCascades(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	installed := []*specs.PackageRecord{
		rec("base", "1.0", "0"),
		rec("dependent", "1.0", "0", "base"),
		rec("unrelated", "1.0", "0"),
	}
	pool.AddInstalled(installed)

	sol, err := New(pool, Flags{AllowUninstall: true}, zap.NewNop().Sugar()).
		Solve([]Job{{Kind: JobRemove, Spec: specs.MustParseMatchSpec("base")}})
	require.NoError(t, err)
	removed := names(sol.Remove)
	assert.Contains(t, removed, "base")
	assert.Contains(t, removed, "dependent", "orphaned dependent is removed too")
	assert.NotContains(t, removed, "unrelated")
}

func TestSolveUpdatePicksNewer(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	old := rec("pkg", "1.0", "0")
	pool.AddInstalled([]*specs.PackageRecord{old})
	pool.AddIndexed([]*specs.PackageRecord{
		rec("pkg", "1.0", "0"),
		rec("pkg", "2.0", "0"),
	}, 1, false)

	sol, err := New(pool, Flags{AllowUninstall: true}, zap.NewNop().Sugar()).
		Solve([]Job{{Kind: JobUpdate, Spec: specs.MustParseMatchSpec("pkg")}})
	require.NoError(t, err)
	require.Len(t, sol.Install, 1)
	assert.Equal(t, "2.0", sol.Install[0].Version)
	require.Len(t, sol.Remove, 1)
	assert.Equal(t, "1.0", sol.Remove[0].Version)
}

func TestSolvePinViolation(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	pool.AddIndexed([]*specs.PackageRecord{
		rec("python", "3.9.7", "0"),
		rec("python", "3.10.1", "0"),
	}, 1, false)

	// The pin keeps python in the 3.9 series even when a newer one exists.
	sol, err := New(pool, Flags{}, zap.NewNop().Sugar()).Solve([]Job{
		{Kind: JobPin, Spec: specs.MustParseMatchSpec("python 3.9.*")},
		installJob(t, "python"),
	})
	require.NoError(t, err)
	require.Len(t, sol.Install, 1)
	assert.Equal(t, "3.9.7", sol.Install[0].Version)

	// A demand that contradicts the pin is an error, not a preference.
	_, err = New(pool, Flags{}, zap.NewNop().Sugar()).Solve([]Job{
		{Kind: JobPin, Spec: specs.MustParseMatchSpec("python 3.9.*")},
		installJob(t, "python>=3.10"),
	})
	require.Error(t, err)
	assert.Equal(t, cmn.KindUnsatisfiable, cmn.KindOf(err))
}

func TestSolveNoopWhenSatisfied(t *testing.T) {
	pool := NewPool(conf.PriorityFlexible)
	cur := rec("pkg", "2.0", "0")
	pool.AddInstalled([]*specs.PackageRecord{cur})
	pool.AddIndexed([]*specs.PackageRecord{rec("pkg", "2.0", "0")}, 1, false)

	sol, err := New(pool, Flags{}, zap.NewNop().Sugar()).Solve([]Job{installJob(t, "pkg")})
	require.NoError(t, err)
	assert.True(t, sol.Empty(), "identical record resolves to no actions")
}
