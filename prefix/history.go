// Package prefix reads and writes the authoritative state of one
// installation prefix: conda-meta records and the history journal.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package prefix

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/specs"
	"github.com/pkg/errors"
)

const (
	historyFileName = "history"
	stampFormat     = "2006-01-02 15:04:05"
)

type (
	// UserRequest is one stanza of the history journal: what the user
	// asked for and what the transaction did.
	UserRequest struct {
		Timestamp   time.Time
		Cmd         string
		UpdateSpecs []string // requested install/update match specs
		RemoveSpecs []string
		LinkDists   []string // "<channel>::<name>-<version>-<build>"
		UnlinkDists []string
	}

	// History is the append-only user-request journal. The installed set
	// of a prefix is the fold of all entries over the empty set.
	History struct {
		path string
	}
)

func NewHistory(path string) *History { return &History{path: path} }

func (h *History) Path() string { return h.path }

// Append writes one stanza. The header comment lines are written once,
// when the file is created.
func (h *History) Append(req *UserRequest) (err error) {
	if err = os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if fi, serr := f.Stat(); serr == nil && fi.Size() == 0 {
		fmt.Fprintln(w, "# this file is autogenerated, do not edit")
	}
	fmt.Fprintf(w, "==> %s <==\n", req.Timestamp.Format(stampFormat))
	if req.Cmd != "" {
		fmt.Fprintf(w, "# cmd: %s\n", req.Cmd)
	}
	for _, d := range req.UnlinkDists {
		fmt.Fprintf(w, "-%s\n", d)
	}
	for _, d := range req.LinkDists {
		fmt.Fprintf(w, "+%s\n", d)
	}
	if len(req.UpdateSpecs) > 0 {
		fmt.Fprintf(w, "# update specs: %s\n", string(cmn.MustMarshal(req.UpdateSpecs)))
	}
	if len(req.RemoveSpecs) > 0 {
		fmt.Fprintf(w, "# remove specs: %s\n", string(cmn.MustMarshal(req.RemoveSpecs)))
	}
	return w.Flush()
}

// Entries parses the journal in order. A missing file is an empty
// history.
func (h *History) Entries() ([]*UserRequest, error) {
	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer cmn.Close(f)

	var (
		out []*UserRequest
		cur *UserRequest
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		switch {
		case strings.HasPrefix(line, "==> ") && strings.HasSuffix(line, " <=="):
			stamp := strings.TrimSuffix(strings.TrimPrefix(line, "==> "), " <==")
			t, perr := time.ParseInLocation(stampFormat, stamp, time.Local)
			if perr != nil {
				continue
			}
			cur = &UserRequest{Timestamp: t}
			out = append(out, cur)
		case cur == nil:
			// Commented header before the first stanza.
		case strings.HasPrefix(line, "# cmd: "):
			cur.Cmd = strings.TrimPrefix(line, "# cmd: ")
		case strings.HasPrefix(line, "# update specs: "):
			cur.UpdateSpecs = parseSpecList(strings.TrimPrefix(line, "# update specs: "))
		case strings.HasPrefix(line, "# remove specs: "):
			cur.RemoveSpecs = parseSpecList(strings.TrimPrefix(line, "# remove specs: "))
		case strings.HasPrefix(line, "+"):
			cur.LinkDists = append(cur.LinkDists, line[1:])
		case strings.HasPrefix(line, "-"):
			cur.UnlinkDists = append(cur.UnlinkDists, line[1:])
		}
	}
	return out, sc.Err()
}

func parseSpecList(s string) []string {
	var out []string
	if err := cmn.JSON.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	// Tolerate the python-repr flavor older tools wrote.
	s = strings.Trim(s, "[]")
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Requested replays the journal into the current user-requested spec per
// package name: update specs overwrite, remove specs delete.
func (h *History) Requested() (map[string]*specs.MatchSpec, error) {
	entries, err := h.Entries()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*specs.MatchSpec)
	for _, e := range entries {
		for _, raw := range e.UpdateSpecs {
			ms, perr := specs.ParseMatchSpec(raw)
			if perr != nil {
				continue
			}
			out[ms.Name] = ms
		}
		for _, raw := range e.RemoveSpecs {
			ms, perr := specs.ParseMatchSpec(raw)
			if perr != nil {
				continue
			}
			delete(out, ms.Name)
		}
	}
	return out, nil
}
