/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package transport

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newBlockingPipe returns a pipe whose descriptors are in blocking mode, like standard input
// inherited from a parent process. Files created by os.Pipe are already non-blocking.
func newBlockingPipe(t *testing.T) (*os.File, *os.File) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))

	r := os.NewFile(uintptr(fds[0]), "blocking-read")
	w := os.NewFile(uintptr(fds[1]), "blocking-write")
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

func TestStdioTransportCloseUnblocksReadOnBlockingInput(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		description string
		opts        []StdioOption
	}{
		{"input closed by transport", []StdioOption{WithoutClosingOutput()}},
		{"input left open", []StdioOption{WithoutClosingInput(), WithoutClosingOutput()}},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()

			// The write end stays open, so the read never sees EOF.
			inR, _ := newBlockingPipe(t)
			_, outW := newBlockingPipe(t)
			tr := NewStdioTransport(inR, outW, tc.opts...)

			readResult := make(chan error, 1)
			go func() {
				_, readErr := tr.Read(make([]byte, 16))
				readResult <- readErr
			}()

			// Give the reader a chance to block.
			time.Sleep(100 * time.Millisecond)
			require.NoError(t, tr.Close())

			select {
			case readErr := <-readResult:
				assert.Error(t, readErr)
			case <-time.After(5 * time.Second):
				t.Fatal("Close did not unblock the pending Read")
			}
		})
	}
}

func TestStdioTransportLeavesBlockingInputUsable(t *testing.T) {
	t.Parallel()

	inR, inW := newBlockingPipe(t)
	_, outW := newBlockingPipe(t)
	tr := NewStdioTransport(inR, outW, WithoutClosingInput(), WithoutClosingOutput())
	require.NoError(t, tr.Close())

	_, writeErr := inW.Write([]byte("x"))
	require.NoError(t, writeErr)

	buf := make([]byte, 1)
	_, readErr := io.ReadFull(inR, buf)
	require.NoError(t, readErr)
	assert.Equal(t, "x", string(buf))
}
