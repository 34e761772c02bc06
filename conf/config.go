// Package conf implements the layered marmot configuration: compiled-in
// defaults, rc files, and environment overrides, in that order.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package conf

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/marmot-pm/marmot/cmn"
)

type (
	// ChannelPriority controls how channel order influences the solver.
	ChannelPriority string

	// SafetyChecks controls link-time path verification.
	SafetyChecks string

	// TTLMode disambiguates the historically overloaded repodata TTL
	// setting (see TTL).
	TTLMode int

	// TTL is the index-cache freshness policy. The rc integer encoding is
	// kept for compatibility: 0 means always fetch, 1 means respect the
	// server's cache headers, any larger value is a fixed TTL in seconds.
	TTL struct {
		Mode    TTLMode
		Seconds int64
	}

	// LinkPolicy groups the three historically orthogonal link booleans.
	// Contradictory combinations are rejected by Validate.
	LinkPolicy struct {
		AllowSoftlinks bool `yaml:"allow_softlinks"`
		AlwaysSoftlink bool `yaml:"always_softlink"`
		AlwaysCopy     bool `yaml:"always_copy"`
	}

	// Remote groups transport tunables.
	Remote struct {
		DownloadThreads    int     `yaml:"download_threads"`
		ExtractThreads     int     `yaml:"extract_threads"`
		MaxRetries         int     `yaml:"max_retries"`
		RetryTimeoutSecs   int     `yaml:"retry_timeout"`
		RetryBackoff       float64 `yaml:"retry_backoff"`
		ConnectTimeoutSecs int     `yaml:"connect_timeout_secs"`
		LowSpeedLimit      int64   `yaml:"low_speed_limit"` // bytes/sec
		LowSpeedTime       int     `yaml:"low_speed_time"`  // seconds
		MaxMirrorTries     int     `yaml:"max_mirror_tries"`
		SSLVerify          string  `yaml:"ssl_verify"` // "<system>", "<false>", or CA bundle path
		SSLNoRevoke        bool    `yaml:"ssl_no_revoke"`
		ProxyServers       map[string]string `yaml:"proxy_servers"`
	}

	// Config is the fully merged configuration for one operation. It is
	// immutable once loaded.
	Config struct {
		RootPrefix   string `yaml:"root_prefix"`
		TargetPrefix string `yaml:"target_prefix"`
		Platform     string `yaml:"platform"`

		Channels            []string            `yaml:"channels"`
		DefaultChannels     []string            `yaml:"default_channels"`
		ChannelAlias        string              `yaml:"channel_alias"`
		CustomChannels      map[string]string   `yaml:"custom_channels"`
		CustomMultichannels map[string][]string `yaml:"custom_multichannels"`
		OverrideChannels    bool                `yaml:"override_channels"`
		ChannelPriority     ChannelPriority     `yaml:"channel_priority"`

		PkgsDirs       []string `yaml:"pkgs_dirs"`
		PinnedPackages []string `yaml:"pinned_packages"`

		SafetyChecks      SafetyChecks `yaml:"safety_checks"`
		ExtraSafetyChecks bool         `yaml:"extra_safety_checks"`

		Link   LinkPolicy `yaml:",inline"`
		Remote Remote     `yaml:",inline"`

		LocalRepodataTTL int64             `yaml:"local_repodata_ttl"`
		RetryCleanCache  bool              `yaml:"retry_clean_cache"`
		AllowDowngrade   bool              `yaml:"allow_downgrade"`
		AllowUninstall   bool              `yaml:"allow_uninstall"`
		Offline          bool              `yaml:"offline"`
		Auth             map[string]string `yaml:"auth"` // host prefix -> "token:...", "bearer:...", "user:pass"

		// Where each winning value came from, for `info -v`.
		Sources map[string]string `yaml:"-"`
	}
)

const (
	PriorityStrict   ChannelPriority = "strict"
	PriorityFlexible ChannelPriority = "flexible"
	PriorityDisabled ChannelPriority = "disabled"

	SafetyDisabled SafetyChecks = "disabled"
	SafetyWarn     SafetyChecks = "warn"
	SafetyEnabled  SafetyChecks = "enabled"

	TTLRespectServer TTLMode = iota
	TTLAlwaysFetch
	TTLSeconds
)

const (
	SSLVerifySystem = "<system>"
	SSLVerifyFalse  = "<false>"
)

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Platform:        HostPlatform(),
		ChannelAlias:    "https://conda.anaconda.org",
		ChannelPriority: PriorityFlexible,
		SafetyChecks:    SafetyWarn,
		Link: LinkPolicy{
			AllowSoftlinks: false,
		},
		Remote: Remote{
			DownloadThreads:    5,
			ExtractThreads:     5,
			MaxRetries:         3,
			RetryTimeoutSecs:   2,
			RetryBackoff:       3,
			ConnectTimeoutSecs: 10,
			LowSpeedLimit:      30,
			LowSpeedTime:       60,
			MaxMirrorTries:     3,
			SSLVerify:          SSLVerifySystem,
		},
		LocalRepodataTTL: 1,
		AllowUninstall:   true,
		Sources:          make(map[string]string),
	}
}

// HostPlatform maps GOOS/GOARCH onto the conda subdir naming.
func HostPlatform() string {
	switch runtime.GOOS {
	case "linux":
		switch runtime.GOARCH {
		case "arm64":
			return "linux-aarch64"
		case "ppc64le":
			return "linux-ppc64le"
		}
		return "linux-64"
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "osx-arm64"
		}
		return "osx-64"
	case "windows":
		return "win-64"
	}
	return "linux-64"
}

// RepodataTTL decodes the rc integer into the tagged policy.
func (c *Config) RepodataTTL() TTL {
	switch c.LocalRepodataTTL {
	case 0:
		return TTL{Mode: TTLAlwaysFetch}
	case 1:
		return TTL{Mode: TTLRespectServer}
	}
	return TTL{Mode: TTLSeconds, Seconds: c.LocalRepodataTTL}
}

func (c *Config) RetryTimeout() time.Duration {
	return time.Duration(c.Remote.RetryTimeoutSecs) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Remote.ConnectTimeoutSecs) * time.Second
}

// FirstPkgsDir is the cache root that also hosts the index cache.
func (c *Config) FirstPkgsDir() string {
	if len(c.PkgsDirs) > 0 {
		return c.PkgsDirs[0]
	}
	return filepath.Join(c.RootPrefix, "pkgs")
}

func (c *Config) EnvsDir() string { return filepath.Join(c.RootPrefix, "envs") }

// Validate rejects contradictory or out-of-range settings.
func (c *Config) Validate() error {
	switch c.ChannelPriority {
	case PriorityStrict, PriorityFlexible, PriorityDisabled:
	default:
		return cmn.New(cmn.KindConfiguration, "invalid channel_priority %q", c.ChannelPriority)
	}
	switch c.SafetyChecks {
	case SafetyDisabled, SafetyWarn, SafetyEnabled:
	default:
		return cmn.New(cmn.KindConfiguration, "invalid safety_checks %q", c.SafetyChecks)
	}
	if c.Link.AlwaysCopy && c.Link.AlwaysSoftlink {
		return cmn.New(cmn.KindConfiguration,
			"always_copy and always_softlink are mutually exclusive")
	}
	if c.Link.AlwaysSoftlink && !c.Link.AllowSoftlinks {
		return cmn.New(cmn.KindConfiguration,
			"always_softlink requires allow_softlinks")
	}
	if c.Remote.DownloadThreads < 1 {
		return cmn.New(cmn.KindConfiguration, "download_threads must be positive")
	}
	if c.Remote.ExtractThreads < 1 {
		return cmn.New(cmn.KindConfiguration, "extract_threads must be positive")
	}
	if c.Remote.MaxRetries < 0 || c.Remote.RetryBackoff < 1 {
		return cmn.New(cmn.KindConfiguration, "invalid retry settings")
	}
	if c.LocalRepodataTTL < 0 {
		return cmn.New(cmn.KindConfiguration, "local_repodata_ttl cannot be negative")
	}
	if c.RootPrefix == "" {
		return cmn.New(cmn.KindConfiguration, "root prefix is not set")
	}
	return nil
}
