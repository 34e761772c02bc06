// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import (
	"net/url"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
	SchemeFTP   = "ftp"
)

// NormalizeURL lowercases scheme and host, preserves path case, and strips
// trailing slashes except when the path is just "/". The invariant is
// ParseURL(u).String() == NormalizeURL(u).
func NormalizeURL(raw string) (string, error) {
	u, err := ParseURL(raw)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ParseURL parses and canonicalizes in one step.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse URL %q", raw)
	}
	if u.Scheme == "" {
		return nil, errors.Errorf("URL %q has no scheme", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u, nil
}

// JoinURL appends path elements to a base URL keeping exactly one slash
// between every pair of segments.
func JoinURL(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		out += "/" + e
	}
	return out
}

func IsFileURL(u string) bool { return strings.HasPrefix(u, "file://") }

func IsHTTPS(u string) bool { return strings.HasPrefix(u, "https://") }

// PathToFileURL converts an absolute filesystem path into a file:// URL.
// Windows drive letters keep their casing after the third slash.
func PathToFileURL(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

// FileURLToPath converts a file:// URL back into a native path.
func FileURLToPath(u string) (string, error) {
	if !IsFileURL(u) {
		return "", errors.Errorf("%q is not a file URL", u)
	}
	p := strings.TrimPrefix(u, "file://")
	if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

// StripURLAuth removes userinfo and any /t/<token>/ segment so that two
// channel URLs can be compared for equivalence.
func StripURLAuth(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	segs := strings.Split(u.Path, "/")
	for i := 0; i < len(segs)-1; i++ {
		if segs[i] == "t" && i+1 < len(segs) {
			segs = append(segs[:i], segs[i+2:]...)
			break
		}
	}
	u.Path = path.Join(segs...)
	if u.Path != "" && !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u.String()
}
