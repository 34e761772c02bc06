// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import (
	"sync"

	"github.com/teris-io/shortid"
)

var (
	sid     *shortid.Shortid
	sidOnce sync.Once
)

// GenTie returns a short unique suffix for temp-file and work-file names.
func GenTie() string {
	sidOnce.Do(func() {
		var err error
		sid, err = shortid.New(1, shortid.DefaultABC, 2972)
		AssertNoErr(err)
	})
	id, err := sid.Generate()
	AssertNoErr(err)
	return id
}
