// Package kvdb provides a small embedded key-value store used for the
// package-cache registry.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package kvdb

import "fmt"

type (
	// Driver is the closed interface over the embedded store. Collections
	// are flat namespaces; keys are opaque strings.
	Driver interface {
		Set(collection, key string, object interface{}) error
		Get(collection, key string, object interface{}) error
		SetString(collection, key, data string) error
		GetString(collection, key string) (string, error)
		Delete(collection, key string) error
		List(collection, pattern string) ([]string, error)
		DeleteCollection(collection string) error
		Close() error
	}

	ErrNotFound struct {
		collection string
		key        string
	}
)

func NewErrNotFound(collection, key string) *ErrNotFound {
	return &ErrNotFound{collection: collection, key: key}
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%q not found in collection %q", e.key, e.collection)
}

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
