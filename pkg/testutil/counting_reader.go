/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"io"
	"sync/atomic"
)

// CountingReader wraps a reader and records how many bytes were consumed through it.
type CountingReader struct {
	inner io.Reader
	n     atomic.Int64
}

func NewCountingReader(inner io.Reader) *CountingReader {
	return &CountingReader{inner: inner}
}

func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.inner.Read(p)
	cr.n.Add(int64(n))
	return n, err
}

// BytesRead returns the total number of bytes returned by Read so far.
func (cr *CountingReader) BytesRead() int64 {
	return cr.n.Load()
}

// OneByteReader returns at most one byte per Read call, exercising partial-read handling.
type OneByteReader struct {
	inner io.Reader
}

func NewOneByteReader(inner io.Reader) *OneByteReader {
	return &OneByteReader{inner: inner}
}

func (obr *OneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return obr.inner.Read(p[:1])
}
