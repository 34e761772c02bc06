// Package dload implements the concurrent transfer engine: a dispatcher
// feeding a bounded pool of joggers, with per-request trackers that handle
// mirrors, retries, conditional fetches, and on-the-fly decompression.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package dload

import (
	"compress/bzip2"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// resolveCompression turns CompressionAuto into a concrete decoder choice
// based on the URL suffix.
func resolveCompression(c Compression, url string) Compression {
	if c != CompressionAuto {
		return c
	}
	switch {
	case strings.HasSuffix(url, ".zst"):
		return CompressionZstd
	case strings.HasSuffix(url, ".bz2") && !strings.HasSuffix(url, ".tar.bz2"):
		return CompressionBzip2
	}
	return CompressionNone
}

// wrapDecoder layers the selected decoder over the response body. The
// returned closer must be invoked on every exit path; decoder errors
// surface through Read and are reported as transfer errors.
func wrapDecoder(body io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return body, func() {}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, errors.Wrap(err, "zstd decoder")
		}
		return zr, zr.Close, nil
	case CompressionBzip2:
		return bzip2.NewReader(body), func() {}, nil
	}
	return nil, nil, errors.Errorf("unknown compression %d", c)
}
