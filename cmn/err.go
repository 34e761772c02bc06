// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"
)

// Kind partitions the error space the way callers branch on it. A Kind is
// attached to an error once, close to where the failure is detected; the
// layers above wrap with context but never change the kind.
type Kind string

const (
	KindInvalidSpec         Kind = "invalid-spec"
	KindInvalidChannel      Kind = "invalid-channel"
	KindUnknownChannel      Kind = "unknown-channel"
	KindRepodataUnavailable Kind = "repodata-unavailable"
	KindAuthRequired        Kind = "auth-required"
	KindUnsatisfiable       Kind = "unsatisfiable"
	KindChecksumMismatch    Kind = "checksum-mismatch"
	KindRetryExceeded       Kind = "network-retry-exceeded"
	KindLockContended       Kind = "lock-contended"
	KindPrefixInUse         Kind = "prefix-in-use"
	KindCacheCorrupted      Kind = "cache-corrupted"
	KindLinkConflict        Kind = "link-conflict"
	KindPermissionDenied    Kind = "permission-denied"
	KindUserCancelled       Kind = "user-cancelled"
	KindConfiguration       Kind = "configuration"
)

type (
	// Err is the generic kind-tagged error. Specific failures that carry
	// structured payload (checksums, solver explanations) get their own types
	// below; everything else goes through New.
	Err struct {
		kind  Kind
		msg   string
		cause error
	}

	// ErrBadCksum is returned when downloaded or extracted bytes do not match
	// the checksum recorded for them.
	ErrBadCksum struct {
		Algo     string
		Expected string
		Got      string
		Source   string // URL or path the bytes came from
	}

	// ErrRetryExceeded is returned when a transfer exhausted its retry and
	// mirror budget.
	ErrRetryExceeded struct {
		URL      string
		Attempts int
		Last     error
	}

	// ErrUnsatisfiable carries the solver's explanation of why no solution
	// exists.
	ErrUnsatisfiable struct {
		Explanation string
	}
)

var ErrCancelled = &Err{kind: KindUserCancelled, msg: "operation cancelled by user"}

func New(kind Kind, format string, a ...interface{}) *Err {
	return &Err{kind: kind, msg: fmt.Sprintf(format, a...)}
}

func NewWrapped(kind Kind, cause error, format string, a ...interface{}) *Err {
	return &Err{kind: kind, msg: fmt.Sprintf(format, a...), cause: cause}
}

func (e *Err) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Err) Kind() Kind    { return e.kind }
func (e *Err) Unwrap() error { return e.cause }

func (e *ErrBadCksum) Error() string {
	return fmt.Sprintf("%s checksum mismatch for %s: expected %s, got %s",
		e.Algo, e.Source, e.Expected, e.Got)
}

func (e *ErrRetryExceeded) Error() string {
	return fmt.Sprintf("download of %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Last)
}

func (e *ErrRetryExceeded) Unwrap() error { return e.Last }

func (e *ErrUnsatisfiable) Error() string {
	return "packages are not satisfiable:\n" + e.Explanation
}

// KindOf walks the wrap chain and reports the first attached kind,
// defaulting to Configuration for foreign errors.
func KindOf(err error) Kind {
	var (
		ce *Err
		ck *ErrBadCksum
		cr *ErrRetryExceeded
		cu *ErrUnsatisfiable
	)
	switch {
	case errors.As(err, &ce):
		return ce.kind
	case errors.As(err, &ck):
		return KindChecksumMismatch
	case errors.As(err, &cr):
		return KindRetryExceeded
	case errors.As(err, &cu):
		return KindUnsatisfiable
	}
	return KindConfiguration
}

func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

func IsCancelled(err error) bool { return IsKind(err, KindUserCancelled) }
