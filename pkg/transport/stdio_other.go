/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package transport

import (
	"errors"
	"os"
)

func newPollableFile(_ *os.File) (*os.File, error) {
	return nil, errors.ErrUnsupported
}
