// Package kvdb provides a small embedded key-value store used for the
// package-cache registry.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package kvdb

import (
	"strings"

	"github.com/marmot-pm/marmot/cmn"
	"github.com/tidwall/buntdb"
)

// BuntDB runs with filesystem sync every second and starts compacting once
// the database file exceeds autoShrinkSize and has grown by half since the
// previous compaction.

const (
	autoShrinkSize = 1024 * 1024
	collectionSepa = "##"
)

type BuntDriver struct {
	driver *buntdb.DB
}

var _ Driver = &BuntDriver{}

func NewBuntDB(path string) (*BuntDriver, error) {
	driver, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	driver.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    autoShrinkSize,
		AutoShrinkPercentage: 50,
	})
	return &BuntDriver{driver: driver}, nil
}

// Convert buntdb errors to package-level ones for clients.
func buntToCommonErr(err error, collection, key string) error {
	if err == buntdb.ErrNotFound {
		return NewErrNotFound(collection, key)
	}
	return err
}

// makePath builds a collision-free full key. Without a separator, the pairs
// ("abc", "def/ghi") and ("abc/def", "ghi") would map to the same path.
func makePath(collection, key string) string {
	if strings.HasSuffix(collection, collectionSepa) {
		return collection + key
	}
	return collection + collectionSepa + key
}

func (bd *BuntDriver) Close() error { return bd.driver.Close() }

func (bd *BuntDriver) Set(collection, key string, object interface{}) error {
	b := cmn.MustMarshal(object)
	return bd.SetString(collection, key, string(b))
}

func (bd *BuntDriver) Get(collection, key string, object interface{}) error {
	s, err := bd.GetString(collection, key)
	if err != nil {
		return err
	}
	return cmn.JSON.Unmarshal([]byte(s), object)
}

func (bd *BuntDriver) SetString(collection, key, data string) error {
	name := makePath(collection, key)
	return bd.driver.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(name, data, nil)
		return err
	})
}

func (bd *BuntDriver) GetString(collection, key string) (string, error) {
	var value string
	name := makePath(collection, key)
	err := bd.driver.View(func(tx *buntdb.Tx) error {
		var err error
		value, err = tx.Get(name)
		return err
	})
	return value, buntToCommonErr(err, collection, key)
}

func (bd *BuntDriver) Delete(collection, key string) error {
	name := makePath(collection, key)
	err := bd.driver.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(name)
		return err
	})
	return buntToCommonErr(err, collection, key)
}

func (bd *BuntDriver) List(collection, pattern string) ([]string, error) {
	var (
		keys   = make([]string, 0)
		filter string
	)
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, "?") {
		pattern += "*"
	}
	filter = makePath(collection, pattern)
	prefix := makePath(collection, "")
	err := bd.driver.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(filter, func(key, _ string) bool {
			keys = append(keys, strings.TrimPrefix(key, prefix))
			return true
		})
	})
	return keys, buntToCommonErr(err, collection, "")
}

func (bd *BuntDriver) DeleteCollection(collection string) error {
	keys, err := bd.List(collection, "")
	if err != nil || len(keys) == 0 {
		return err
	}
	return bd.driver.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			_, err := tx.Delete(makePath(collection, k))
			if err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}
