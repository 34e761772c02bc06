// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// FileLock is an advisory cross-process lock implemented as a sidecar pid
// file created with O_EXCL. A lock whose owning process is gone is
// considered stale and taken over.
type FileLock struct {
	path string
	fd   *os.File
}

const (
	lockPollEvery = 100 * time.Millisecond
	lockSuffix    = ".lock"
)

// LockPath derives the lock-file path that guards target (a file or a
// directory).
func LockPath(target string) string {
	return filepath.Join(filepath.Dir(target), filepath.Base(target)+lockSuffix)
}

// AcquireLock blocks until the lock is held or the timeout elapses.
// A zero timeout means a single non-blocking attempt.
func AcquireLock(path string, timeout time.Duration) (*FileLock, error) {
	var (
		deadline = time.Now().Add(timeout)
		fl       = &FileLock{path: path}
	)
	for {
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return nil, err
		}
		fd, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
		if err == nil {
			_, err = fd.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			if err != nil {
				Close(fd)
				_ = RemoveFile(path)
				return nil, err
			}
			fl.fd = fd
			return fl, nil
		}
		if !os.IsExist(err) {
			return nil, Access(err, path)
		}
		if stale(path) {
			// Orphaned by a dead process; remove and retry immediately.
			_ = RemoveFile(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, New(KindLockContended, "lock %s is held by another process", path)
		}
		time.Sleep(lockPollEvery)
	}
}

// stale reports whether the pid recorded in the lock file no longer
// refers to a live process.
func stale(path string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return true
	}
	if pid == os.Getpid() {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	if runtime.GOOS == "windows" {
		// FindProcess already failed above for a dead pid.
		return false
	}
	// Signal 0 only probes for existence.
	return proc.Signal(probeSignal) != nil
}

// Release unlocks and removes the lock file; it is safe to call twice.
func (fl *FileLock) Release() error {
	if fl == nil || fl.fd == nil {
		return nil
	}
	Close(fl.fd)
	fl.fd = nil
	return RemoveFile(fl.path)
}

func (fl *FileLock) Path() string { return fl.path }
