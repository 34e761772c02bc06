// Package channel models channels and resolves user-level channel
// references into concrete per-platform repository URLs.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package channel

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/marmot-pm/marmot/cmn"
)

type (
	AuthKind int

	// Auth is the credential material attached to a channel URL.
	Auth struct {
		Kind     AuthKind
		Token    string
		User     string
		Password string
	}

	authEntry struct {
		key  string // host[:port][/path], no scheme
		auth Auth
	}

	// AuthStore is an immutable credential database. Lookup is a
	// longest-prefix match over host-and-path keys; at equal specificity
	// BearerToken beats CondaToken beats BasicHTTPAuthentication.
	AuthStore struct {
		entries []authEntry
	}
)

const (
	AuthNone AuthKind = iota
	AuthBasicHTTP
	AuthCondaToken
	AuthBearerToken
)

// NewAuthStore builds the store from configuration entries of the form
// "token:<t>", "bearer:<t>" or "<user>:<pass>", keyed by host prefix.
func NewAuthStore(raw map[string]string) (*AuthStore, error) {
	st := &AuthStore{entries: make([]authEntry, 0, len(raw))}
	for key, val := range raw {
		auth, err := parseAuthValue(val)
		if err != nil {
			return nil, cmn.NewWrapped(cmn.KindConfiguration, err, "auth entry for %q", key)
		}
		st.entries = append(st.entries, authEntry{key: strings.TrimSuffix(key, "/"), auth: auth})
	}
	// Longer (more specific) keys first; kind breaks exact ties.
	sort.Slice(st.entries, func(i, j int) bool {
		a, b := st.entries[i], st.entries[j]
		if len(a.key) != len(b.key) {
			return len(a.key) > len(b.key)
		}
		if a.key != b.key {
			return a.key < b.key
		}
		return a.auth.Kind > b.auth.Kind
	})
	return st, nil
}

func parseAuthValue(val string) (Auth, error) {
	switch {
	case strings.HasPrefix(val, "token:"):
		return Auth{Kind: AuthCondaToken, Token: val[len("token:"):]}, nil
	case strings.HasPrefix(val, "bearer:"):
		return Auth{Kind: AuthBearerToken, Token: val[len("bearer:"):]}, nil
	}
	i := strings.IndexByte(val, ':')
	if i <= 0 {
		return Auth{}, cmn.New(cmn.KindConfiguration,
			"expected token:..., bearer:..., or user:password")
	}
	return Auth{Kind: AuthBasicHTTP, User: val[:i], Password: val[i+1:]}, nil
}

// BearerHeader renders the Authorization header for URLs whose best
// credential is a bearer token; bearer material never rides in the URL.
func (st *AuthStore) BearerHeader(rawURL string) http.Header {
	auth := st.Lookup(rawURL)
	if auth == nil || auth.Kind != AuthBearerToken {
		return nil
	}
	hdr := make(http.Header, 1)
	hdr.Set("Authorization", "Bearer "+auth.Token)
	return hdr
}

// Lookup returns the most specific credential for the URL, or nil.
func (st *AuthStore) Lookup(rawURL string) *Auth {
	if st == nil || len(st.entries) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	target := u.Host + u.Path
	for i := range st.entries {
		e := &st.entries[i]
		if target == e.key || strings.HasPrefix(target, e.key+"/") {
			return &e.auth
		}
	}
	return nil
}
