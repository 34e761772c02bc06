// Package channel models channels and resolves user-level channel
// references into concrete per-platform repository URLs.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package channel

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	homedir "github.com/mitchellh/go-homedir"
)

// Resolver turns UnresolvedChannels into Channels. It is built once per
// operation from configuration and is safe for concurrent use.
type Resolver struct {
	Alias            string              // channel alias URL; may be empty
	Custom           map[string]string   // name -> channel URL
	Multi            map[string][]string // name -> channel set
	Auth             *AuthStore
	DefaultPlatforms []string

	// Pinned ambient state, injectable for tests.
	HomeDir string
	CWD     string
}

// Resolve applies the resolution rules in order: path expansion, URL
// parsing, name lookup (multichannel, custom, alias), display-name
// recovery, credential weaving, platform selection.
func (r *Resolver) Resolve(uc UnresolvedChannel) ([]*Channel, error) {
	switch uc.Type {
	case TypePath, TypePackagePath:
		return r.resolveLocal(uc)
	case TypeURL, TypePackageURL:
		return r.resolveURL(uc)
	}
	return r.resolveName(uc)
}

// ResolveAll flattens the resolution of several references, keeping order
// and dropping duplicates (first occurrence wins).
func (r *Resolver) ResolveAll(ucs []UnresolvedChannel) ([]*Channel, error) {
	var (
		out  []*Channel
		seen = make(map[string]struct{})
	)
	for _, uc := range ucs {
		chans, err := r.Resolve(uc)
		if err != nil {
			return nil, err
		}
		for _, c := range chans {
			key := cmn.StripURLAuth(c.URL)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Resolver) resolveLocal(uc UnresolvedChannel) ([]*Channel, error) {
	p := uc.Raw
	if strings.HasPrefix(p, "~") {
		if r.HomeDir != "" {
			p = filepath.Join(r.HomeDir, strings.TrimPrefix(p[1:], string(filepath.Separator)))
		} else {
			expanded, err := homedir.Expand(p)
			if err != nil {
				return nil, cmn.NewWrapped(cmn.KindInvalidChannel, err, "cannot expand %q", uc.Raw)
			}
			p = expanded
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.CWD, p)
	}
	p = filepath.Clean(p)

	c := &Channel{URL: cmn.PathToFileURL(p)}
	if uc.Type == TypePackagePath {
		c.DisplayName = filepath.Base(p)
	} else {
		c.DisplayName = filepath.ToSlash(p)
		c.Platforms = r.platformsFor(uc)
	}
	r.attachAuth(c)
	return []*Channel{c}, nil
}

func (r *Resolver) resolveURL(uc UnresolvedChannel) ([]*Channel, error) {
	norm, err := cmn.NormalizeURL(uc.Raw)
	if err != nil {
		return nil, cmn.NewWrapped(cmn.KindInvalidChannel, err, "invalid channel %q", uc.Raw)
	}
	c := &Channel{URL: norm, DisplayName: r.displayName(norm)}
	if uc.Type == TypeURL {
		c.Platforms = r.platformsFor(uc)
	}
	r.attachAuth(c)
	return []*Channel{c}, nil
}

func (r *Resolver) resolveName(uc UnresolvedChannel) ([]*Channel, error) {
	name := strings.Trim(uc.Raw, "/")

	if members, ok := r.Multi[name]; ok {
		var out []*Channel
		for _, m := range members {
			sub := ParseUnresolved(m, uc.Platforms)
			if sub.Type == TypeName && sub.Raw == name {
				return nil, cmn.New(cmn.KindInvalidChannel,
					"multichannel %q references itself", name)
			}
			chans, err := r.Resolve(sub)
			if err != nil {
				return nil, err
			}
			out = append(out, chans...)
		}
		return out, nil
	}

	var raw string
	if u, ok := r.Custom[name]; ok {
		raw = u
	} else if i := strings.IndexByte(name, '/'); i > 0 {
		// "owner/label" style names may hit a custom entry by their head.
		if u, ok := r.Custom[name[:i]]; ok {
			raw = cmn.JoinURL(u, name[i+1:])
		}
	}
	if raw == "" {
		if r.Alias == "" {
			return nil, cmn.New(cmn.KindUnknownChannel,
				"channel %q matches no custom channel and no channel alias is configured", name)
		}
		raw = cmn.JoinURL(r.Alias, name)
	}
	norm, err := cmn.NormalizeURL(raw)
	if err != nil {
		return nil, cmn.NewWrapped(cmn.KindInvalidChannel, err, "channel %q", uc.Raw)
	}
	c := &Channel{
		URL:         norm,
		DisplayName: r.displayName(norm),
		Platforms:   r.platformsFor(uc),
	}
	r.attachAuth(c)
	return []*Channel{c}, nil
}

// displayName recovers the friendliest name for a URL: the longest custom
// channel (or alias) whose URL prefixes it wins, and the leftover path is
// appended back. Unmatched URLs display without scheme and credentials.
func (r *Resolver) displayName(u string) string {
	var (
		stripped  = cmn.StripURLAuth(u)
		bestLen   = -1
		bestName  string
		candidate = func(name, base string) {
			base = strings.TrimRight(cmn.StripURLAuth(base), "/")
			if base == "" || len(base) <= bestLen {
				return
			}
			if stripped == base {
				bestLen, bestName = len(base), name
			} else if strings.HasPrefix(stripped, base+"/") {
				suffix := strings.TrimPrefix(stripped, base+"/")
				if name == "" {
					bestLen, bestName = len(base), suffix
				} else {
					bestLen, bestName = len(base), name+"/"+suffix
				}
			}
		}
	)
	for name, base := range r.Custom {
		candidate(name, base)
	}
	if r.Alias != "" {
		candidate("", r.Alias)
	}
	if bestLen >= 0 {
		return bestName
	}
	if i := strings.Index(stripped, "://"); i >= 0 {
		return stripped[i+3:]
	}
	return stripped
}

// attachAuth weaves credentials into the channel URL: conda tokens become
// a /t/<token>/ path segment, basic auth becomes URL userinfo. Bearer
// tokens stay out of the URL; the transport attaches them per request.
func (r *Resolver) attachAuth(c *Channel) {
	auth := r.Auth.Lookup(c.URL)
	if auth == nil {
		return
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return
	}
	switch auth.Kind {
	case AuthCondaToken:
		if !strings.HasPrefix(u.Path, "/t/") {
			u.Path = "/t/" + auth.Token + u.Path
		}
	case AuthBasicHTTP:
		u.User = url.UserPassword(auth.User, auth.Password)
	}
	c.URL = u.String()
}

func (r *Resolver) platformsFor(uc UnresolvedChannel) []string {
	if len(uc.Platforms) > 0 {
		return uc.Platforms
	}
	out := make([]string, len(r.DefaultPlatforms))
	copy(out, r.DefaultPlatforms)
	return out
}
