// Package jsp (JSON persistence) provides utilities to store and load
// JSON-encoded structures with optional checksumming and compression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package jsp

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/OneOfOne/xxhash"
	"github.com/marmot-pm/marmot/cmn"
	lz4 "github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
)

const (
	signature = "marmot" // file signature
	//                            0 -------------- 63  64 ------ 95 | 96 ------ 127
	prefLen = 16 // [ signature | jsp ver | meta version |   bit flags  ]

	Metaver = 1 // current jsp format version
)

// Bit flags.
const (
	flagCompress uint32 = 1 << iota
	flagChecksum
)

type Options struct {
	Compress bool
	Checksum bool
	Metaver  uint32 // version of the stored structure, checked on load
}

func Plain() Options             { return Options{} }
func CksumSign(v uint32) Options { return Options{Checksum: true, Metaver: v} }
func CCSign(v uint32) Options    { return Options{Compress: true, Checksum: true, Metaver: v} }

// Encode writes the 16-byte preamble, then the body xxhash when checksumming
// is enabled, then the (optionally LZ4-compressed) JSON body.
func Encode(w io.Writer, v interface{}, opts Options) (err error) {
	var (
		flags uint32
		body  []byte
	)
	if body, err = cmn.JSON.Marshal(v); err != nil {
		return
	}
	if opts.Compress {
		flags |= flagCompress
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err = zw.Write(body); err != nil {
			return
		}
		if err = zw.Close(); err != nil {
			return
		}
		body = buf.Bytes()
	}
	var sum uint64
	if opts.Checksum {
		flags |= flagChecksum
		sum = xxhash.Checksum64(body)
	}

	pref := make([]byte, prefLen)
	copy(pref, signature)
	pref[6] = byte(Metaver)
	binary.BigEndian.PutUint32(pref[8:], opts.Metaver)
	binary.BigEndian.PutUint32(pref[12:], flags)
	if _, err = w.Write(pref); err != nil {
		return
	}
	if opts.Checksum {
		var sumBytes [8]byte
		binary.BigEndian.PutUint64(sumBytes[:], sum)
		if _, err = w.Write(sumBytes[:]); err != nil {
			return
		}
	}
	_, err = w.Write(body)
	return
}

// Decode reads what Encode wrote, verifying signature, versions and the
// body checksum when present.
func Decode(r io.Reader, v interface{}, opts Options, tag string) (err error) {
	var pref [prefLen]byte
	if _, err = io.ReadFull(r, pref[:]); err != nil {
		return errors.Wrapf(err, "failed to read %s preamble", tag)
	}
	if string(pref[:len(signature)]) != signature {
		return cmn.New(cmn.KindCacheCorrupted, "bad signature in %s", tag)
	}
	if pref[6] != byte(Metaver) {
		return cmn.New(cmn.KindCacheCorrupted, "unsupported jsp version %d in %s", pref[6], tag)
	}
	if mv := binary.BigEndian.Uint32(pref[8:]); mv != opts.Metaver {
		return cmn.New(cmn.KindCacheCorrupted, "meta version mismatch in %s: have %d, want %d",
			tag, mv, opts.Metaver)
	}
	flags := binary.BigEndian.Uint32(pref[12:])

	var expected uint64
	if flags&flagChecksum != 0 {
		var sumBytes [8]byte
		if _, err = io.ReadFull(r, sumBytes[:]); err != nil {
			return errors.Wrapf(err, "failed to read %s checksum", tag)
		}
		expected = binary.BigEndian.Uint64(sumBytes[:])
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s body", tag)
	}
	if flags&flagChecksum != 0 {
		if got := xxhash.Checksum64(body); got != expected {
			return cmn.New(cmn.KindCacheCorrupted, "bad checksum in %s", tag)
		}
	}
	if flags&flagCompress != 0 {
		zr := lz4.NewReader(bytes.NewReader(body))
		if body, err = io.ReadAll(zr); err != nil {
			return errors.Wrapf(err, "failed to decompress %s", tag)
		}
	}
	return cmn.JSON.Unmarshal(body, v)
}
