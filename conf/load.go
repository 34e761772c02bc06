// Package conf implements the layered marmot configuration: compiled-in
// defaults, rc files, and environment overrides, in that order.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package conf

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// LoadOpts pins down the ambient inputs so tests can run hermetically.
type LoadOpts struct {
	RCFiles []string          // explicit rc files, highest last; nil means discover
	Environ map[string]string // nil means os.Environ
	HomeDir string            // "" means the real home
}

// Load builds the effective configuration: defaults, then every rc file in
// precedence order, then environment variables.
func Load(opts LoadOpts) (*Config, error) {
	cfg := Default()
	env := opts.Environ
	if env == nil {
		env = environMap()
	}
	home := opts.HomeDir
	if home == "" {
		var err error
		if home, err = homedir.Dir(); err != nil {
			return nil, errors.Wrap(err, "cannot determine home directory")
		}
	}

	if cfg.RootPrefix = env["MAMBA_ROOT_PREFIX"]; cfg.RootPrefix == "" {
		cfg.RootPrefix = filepath.Join(home, ".marmot")
	}
	if p := env["CONDA_PREFIX"]; p != "" {
		cfg.TargetPrefix = p
	} else {
		cfg.TargetPrefix = cfg.RootPrefix
	}

	files := opts.RCFiles
	if files == nil {
		files = discoverRCFiles(cfg.RootPrefix, home, env)
	}
	for _, f := range files {
		if err := mergeFile(cfg, f); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg, env)

	if len(cfg.PkgsDirs) == 0 {
		cfg.PkgsDirs = []string{filepath.Join(cfg.RootPrefix, "pkgs")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discovery order mirrors the original tool: system, root prefix, home,
// then an explicit $CONDARC; later files win.
func discoverRCFiles(rootPrefix, home string, env map[string]string) []string {
	candidates := []string{
		"/etc/conda/.condarc",
		filepath.Join(rootPrefix, ".condarc"),
		filepath.Join(rootPrefix, ".mambarc"),
		filepath.Join(home, ".condarc"),
		filepath.Join(home, ".mambarc"),
	}
	if rc := env["CONDARC"]; rc != "" {
		candidates = append(candidates, rc)
	}
	var out []string
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.Mode().IsRegular() {
			out = append(out, c)
		}
	}
	return out
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cmn.Access(err, path)
	}
	// Decode into a scratch copy first so a malformed file cannot leave the
	// config half-merged. Maps are cloned because the decoder mutates them
	// in place.
	scratch := *cfg
	scratch.CustomChannels = cloneMap(cfg.CustomChannels)
	scratch.Remote.ProxyServers = cloneMap(cfg.Remote.ProxyServers)
	scratch.Auth = cloneMap(cfg.Auth)
	if cfg.CustomMultichannels != nil {
		scratch.CustomMultichannels = make(map[string][]string, len(cfg.CustomMultichannels))
		for k, v := range cfg.CustomMultichannels {
			scratch.CustomMultichannels[k] = v
		}
	}
	if err := yaml.Unmarshal(data, &scratch); err != nil {
		return cmn.NewWrapped(cmn.KindConfiguration, err, "malformed rc file %s", path)
	}
	*cfg = scratch
	noteSource(cfg, path, data)
	return nil
}

// noteSource records which file supplied each top-level key.
func noteSource(cfg *Config, path string, data []byte) {
	var keys map[string]interface{}
	if yaml.Unmarshal(data, &keys) != nil {
		return
	}
	for k := range keys {
		cfg.Sources[k] = path
	}
}

func applyEnv(cfg *Config, env map[string]string) {
	set := func(key string, apply func(string)) {
		if v, ok := env[key]; ok && v != "" {
			apply(v)
			cfg.Sources[key] = "env"
		}
	}
	set("CONDA_CHANNELS", func(v string) { cfg.Channels = splitList(v) })
	set("MAMBA_DEFAULT_CHANNELS", func(v string) { cfg.DefaultChannels = splitList(v) })
	set("MAMBA_CHANNEL_ALIAS", func(v string) { cfg.ChannelAlias = v })
	set("CONDA_PKGS_DIRS", func(v string) { cfg.PkgsDirs = splitList(v) })
	set("MAMBA_SSL_VERIFY", func(v string) { cfg.Remote.SSLVerify = v })
	set("MAMBA_CACERT_PATH", func(v string) { cfg.Remote.SSLVerify = v })
	set("REQUESTS_CA_BUNDLE", func(v string) { cfg.Remote.SSLVerify = v })
	set("MAMBA_SAFETY_CHECKS", func(v string) { cfg.SafetyChecks = SafetyChecks(v) })
	set("MAMBA_PINNED_PACKAGES", func(v string) { cfg.PinnedPackages = splitList(v) })
	set("CONDA_SUBDIR", func(v string) { cfg.Platform = v })
	set("CONDA_OFFLINE", func(v string) { cfg.Offline = isTruthy(v) })
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func environMap() map[string]string {
	out := make(map[string]string, 64)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}
