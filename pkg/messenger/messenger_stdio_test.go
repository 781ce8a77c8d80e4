/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package messenger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/microsoft/dbgmux/pkg/testutil"
	"github.com/microsoft/dbgmux/pkg/transport"
)

func TestCloseReturnsWithBlockingStdioInput(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	// Blocking descriptors, like standard input inherited from a parent that keeps its end open.
	inFds := make([]int, 2)
	require.NoError(t, unix.Pipe(inFds))
	outFds := make([]int, 2)
	require.NoError(t, unix.Pipe(outFds))
	files := []*os.File{
		os.NewFile(uintptr(inFds[0]), "in-read"),
		os.NewFile(uintptr(inFds[1]), "in-write"),
		os.NewFile(uintptr(outFds[0]), "out-read"),
		os.NewFile(uintptr(outFds[1]), "out-write"),
	}
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	tr := transport.NewStdioTransport(files[0], files[3], transport.WithoutClosingOutput())
	m := newTestMessenger(ctx, t, tr, "stdio")

	closeResult := make(chan error, 1)
	go func() {
		closeResult <- m.Close()
	}()

	select {
	case <-closeResult:
	case <-ctx.Done():
		t.Fatalf("Close did not return; state is %s", m.State())
	}
	assert.Equal(t, MessengerStateClosed, m.State())
}
