// Package cmn provides common low-level types and utilities shared by all marmot packages.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package cmn

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strconv"

	"github.com/OneOfOne/xxhash"
)

const (
	ChecksumMD5    = "md5"
	ChecksumSHA256 = "sha256"
	ChecksumXXHash = "xxhash"
)

type (
	// Cksum is an (algorithm, hex value) pair.
	Cksum struct {
		Algo  string `json:"algo"`
		Value string `json:"value"`
	}

	// CksumHash streams bytes into a hash and finalizes into a Cksum.
	CksumHash struct {
		Cksum
		h hash.Hash
	}
)

func NewCksum(algo, value string) *Cksum { return &Cksum{Algo: algo, Value: value} }

func (ck *Cksum) IsEmpty() bool { return ck == nil || ck.Value == "" }

func (ck *Cksum) Equal(other *Cksum) bool {
	if ck.IsEmpty() || other.IsEmpty() {
		return false
	}
	return ck.Algo == other.Algo && ck.Value == other.Value
}

func (ck *Cksum) String() string {
	if ck.IsEmpty() {
		return "none"
	}
	return ck.Algo + ":" + ck.Value
}

func NewCksumHash(algo string) *CksumHash {
	ck := &CksumHash{Cksum: Cksum{Algo: algo}}
	switch algo {
	case ChecksumMD5:
		ck.h = md5.New()
	case ChecksumSHA256:
		ck.h = sha256.New()
	case ChecksumXXHash:
		ck.h = xxhash.New64()
	default:
		Assertf(false, "invalid checksum algorithm %q", algo)
	}
	return ck
}

func (ck *CksumHash) Write(b []byte) (int, error) { return ck.h.Write(b) }

// Finalize computes the hex value; the hash must not be written afterwards.
func (ck *CksumHash) Finalize() *Cksum {
	ck.Value = hex.EncodeToString(ck.h.Sum(nil))
	return &ck.Cksum
}

// FileCksum computes the checksum of an entire file.
func FileCksum(path, algo string) (*Cksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer Close(f)
	ck := NewCksumHash(algo)
	if _, err := io.Copy(ck, f); err != nil {
		return nil, err
	}
	return ck.Finalize(), nil
}

// XXHash64Str is used for short stable cache keys (e.g. index-cache file
// names derived from channel URLs).
func XXHash64Str(s string) string {
	return strconv.FormatUint(xxhash.ChecksumString64(s), 16)
}
