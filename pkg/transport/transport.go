/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package transport provides full-duplex byte streams that a messenger can multiplex.
package transport

import (
	"errors"
	"io"
	"net"
)

// ErrTransportClosed is returned by Read and Write after the transport has been closed.
var ErrTransportClosed = errors.New("transport is closed")

// Transport is a full-duplex byte stream.
// Read may return fewer bytes than requested. Read and Write may be called concurrently with each other,
// but implementations do not serialize concurrent writers; callers that write whole frames must do that.
// Close is idempotent and unblocks any Read or Write that is in progress.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// Pipe returns an in-memory, synchronous, connected pair of transports.
func Pipe() (Transport, Transport) {
	left, right := net.Pipe()
	return NewConnTransport(left), NewConnTransport(right)
}
