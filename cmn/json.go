// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import (
	jsoniter "github.com/json-iterator/go"
)

// JSON is the module-wide jsoniter configuration: strict float decoding
// off, map keys sorted so that persisted records diff cleanly.
var JSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

func MustMarshal(v interface{}) []byte {
	b, err := JSON.Marshal(v)
	AssertNoErr(err)
	return b
}

func MustMarshalIndent(v interface{}) []byte {
	b, err := JSON.MarshalIndent(v, "", "  ")
	AssertNoErr(err)
	return b
}
