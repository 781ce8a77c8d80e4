/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package transport

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// newPollableFile returns a non-blocking duplicate of the file descriptor, registered with the runtime poller,
// so that closing it wakes a pending Read. The original file is left open.
func newPollableFile(f *os.File) (*os.File, error) {
	rawConn, rawConnErr := f.SyscallConn()
	if rawConnErr != nil {
		return nil, rawConnErr
	}

	dupFd := -1
	var dupErr error
	// Control (unlike Fd) does not switch the original file to blocking mode.
	controlErr := rawConn.Control(func(fd uintptr) {
		dupFd, dupErr = unix.Dup(int(fd))
		if dupErr == nil {
			unix.CloseOnExec(dupFd)
		}
	})
	if controlErr != nil {
		return nil, controlErr
	}
	if dupErr != nil {
		return nil, fmt.Errorf("could not duplicate file descriptor of %s: %w", f.Name(), dupErr)
	}

	if nonblockErr := unix.SetNonblock(dupFd, true); nonblockErr != nil {
		_ = unix.Close(dupFd)
		return nil, fmt.Errorf("could not make %s non-blocking: %w", f.Name(), nonblockErr)
	}

	// NewFile registers non-blocking descriptors with the poller when the file type supports it.
	return os.NewFile(uintptr(dupFd), f.Name()), nil
}
