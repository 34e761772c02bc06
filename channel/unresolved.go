// Package channel models channels and resolves user-level channel
// references into concrete per-platform repository URLs.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package channel

import (
	"strings"
)

type (
	// UCType classifies the raw user input.
	UCType int

	// UnresolvedChannel is the user-level channel reference before
	// resolution: a raw string plus an optional platform filter.
	UnresolvedChannel struct {
		Raw       string
		Type      UCType
		Platforms []string
	}
)

const (
	TypeName UCType = iota
	TypeURL
	TypePath
	TypePackageURL
	TypePackagePath
)

func (t UCType) String() string {
	switch t {
	case TypeName:
		return "name"
	case TypeURL:
		return "url"
	case TypePath:
		return "path"
	case TypePackageURL:
		return "package-url"
	case TypePackagePath:
		return "package-path"
	}
	return "unknown"
}

// ParseUnresolved classifies the raw string. The platform filter, when
// non-empty, overrides the channel's default platform set.
func ParseUnresolved(raw string, platforms []string) UnresolvedChannel {
	uc := UnresolvedChannel{Raw: raw, Platforms: platforms}
	uc.Type = classify(raw)
	return uc
}

func classify(raw string) UCType {
	archive := isArchiveName(raw)
	if hasScheme(raw) {
		if archive {
			return TypePackageURL
		}
		return TypeURL
	}
	if looksLikePath(raw) {
		if archive {
			return TypePackagePath
		}
		return TypePath
	}
	if archive {
		return TypePackagePath
	}
	return TypeName
}

func isArchiveName(s string) bool {
	return strings.HasSuffix(s, ".conda") || strings.HasSuffix(s, ".tar.bz2")
}

func hasScheme(s string) bool {
	i := strings.Index(s, "://")
	if i <= 0 {
		return false
	}
	for _, r := range s[:i] {
		if !isSchemeRune(r) {
			return false
		}
	}
	return true
}

func isSchemeRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'
}

func looksLikePath(s string) bool {
	switch {
	case strings.HasPrefix(s, "./"), strings.HasPrefix(s, "../"),
		strings.HasPrefix(s, "/"), strings.HasPrefix(s, "~"):
		return true
	case strings.HasPrefix(s, ".\\"), strings.HasPrefix(s, "..\\"):
		return true
	case len(s) > 2 && s[1] == ':' && (s[2] == '/' || s[2] == '\\'): // drive letter
		return true
	}
	return false
}
