// Package prefix reads and writes the authoritative state of one
// installation prefix: conda-meta records and the history journal.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package prefix

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/specs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	MetaDirName = "conda-meta"

	prefixLockTimeout = 30 * time.Second
)

type (
	// LinkInfo records how an artifact's files were materialized.
	LinkInfo struct {
		Source string `json:"source,omitempty"` // extracted package dir
		Type   string `json:"type,omitempty"`   // hardlink | softlink | copy
	}

	// Record is the conda-meta shape: the package record plus the linked
	// file inventory.
	Record struct {
		specs.PackageRecord
		Files         []string         `json:"files"`
		PathsData     *specs.PathsData `json:"paths_data,omitempty"`
		Link          LinkInfo         `json:"link,omitempty"`
		RequestedSpec string           `json:"requested_spec,omitempty"`
	}

	// PrefixData is the in-memory view of one prefix. The record map is
	// read from disk once and cached for the lifetime of the operation;
	// mutators keep it in sync with the filesystem.
	PrefixData struct {
		root    string
		records map[string]*Record // by package name
		history *History
		log     *zap.SugaredLogger
	}
)

// Load scans <prefix>/conda-meta and builds the installed-record map.
// A prefix without conda-meta is a valid empty prefix.
func Load(root string, log *zap.SugaredLogger) (*PrefixData, error) {
	pd := &PrefixData{
		root:    root,
		records: make(map[string]*Record),
		history: NewHistory(filepath.Join(root, MetaDirName, historyFileName)),
		log:     log,
	}
	metaDir := filepath.Join(root, MetaDirName)
	if _, err := os.Stat(metaDir); os.IsNotExist(err) {
		return pd, nil
	}
	err := godirwalk.Walk(metaDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(path, ".json") {
				return nil
			}
			rec, err := readRecord(path)
			if err != nil {
				log.Warnf("skipping unreadable conda-meta entry %s: %v", path, err)
				return nil
			}
			pd.records[rec.Name] = rec
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", metaDir)
	}
	return pd, nil
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := cmn.JSON.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if rec.Name == "" {
		return nil, errors.Errorf("%s has no package name", path)
	}
	return &rec, nil
}

func (pd *PrefixData) Root() string      { return pd.root }
func (pd *PrefixData) History() *History { return pd.history }

func (pd *PrefixData) MetaDir() string { return filepath.Join(pd.root, MetaDirName) }

func (pd *PrefixData) Get(name string) (*Record, bool) {
	rec, ok := pd.records[name]
	return rec, ok
}

// Records returns the installed set sorted by name.
func (pd *PrefixData) Records() []*Record {
	out := make([]*Record, 0, len(pd.records))
	for _, rec := range pd.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PackageRecords adapts the installed set for the solver pool.
func (pd *PrefixData) PackageRecords() []*specs.PackageRecord {
	out := make([]*specs.PackageRecord, 0, len(pd.records))
	for _, rec := range pd.Records() {
		r := rec.PackageRecord
		out = append(out, &r)
	}
	return out
}

// Lock takes the exclusive prefix lock held for the duration of a
// transaction execute.
func (pd *PrefixData) Lock() (*cmn.FileLock, error) {
	lockPath := filepath.Join(pd.root, MetaDirName, ".prefix.lock")
	fl, err := cmn.AcquireLock(lockPath, prefixLockTimeout)
	if err != nil {
		if cmn.IsKind(err, cmn.KindLockContended) {
			return nil, cmn.NewWrapped(cmn.KindPrefixInUse, err,
				"prefix %s is in use by another process", pd.root)
		}
		return nil, err
	}
	return fl, nil
}

// InsertRecord writes the conda-meta file and updates the in-memory map.
// The file appears only after every payload file is in place, which is
// what makes a crashed transaction recognizable.
func (pd *PrefixData) InsertRecord(rec *Record) error {
	path := filepath.Join(pd.MetaDir(), rec.DistName()+".json")
	if err := cmn.SaveBytes(path, cmn.MustMarshalIndent(rec)); err != nil {
		return err
	}
	pd.records[rec.Name] = rec
	return nil
}

// RemoveRecord deletes the conda-meta file and forgets the record.
func (pd *PrefixData) RemoveRecord(name string) error {
	rec, ok := pd.records[name]
	if !ok {
		return nil
	}
	path := filepath.Join(pd.MetaDir(), rec.DistName()+".json")
	if err := cmn.RemoveFile(path); err != nil {
		return err
	}
	delete(pd.records, name)
	return nil
}

// IsPrefix reports whether the directory looks like a managed prefix.
func IsPrefix(root string) bool {
	fi, err := os.Stat(filepath.Join(root, MetaDirName))
	return err == nil && fi.IsDir()
}
