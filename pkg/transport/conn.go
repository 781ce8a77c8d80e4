/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/microsoft/dbgmux/pkg/resiliency"
)

// connTransport implements Transport over a network connection.
type connTransport struct {
	conn net.Conn

	// closed indicates whether the transport has been closed
	closed bool
	mu     sync.Mutex
}

// NewConnTransport creates a new Transport backed by a network connection (TCP, Unix socket, in-memory pipe).
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{
		conn: conn,
	}
}

// DialTCP establishes a TCP connection to the specified address and returns a Transport.
func DialTCP(ctx context.Context, address string) (Transport, error) {
	return dial(ctx, "tcp", address)
}

// DialUnix connects to the Unix domain socket at the specified path and returns a Transport.
func DialUnix(ctx context.Context, socketPath string) (Transport, error) {
	return dial(ctx, "unix", socketPath)
}

// DialTCPWithRetry keeps dialing the address until it succeeds, the backoff policy gives up,
// or the context is cancelled.
func DialTCPWithRetry(ctx context.Context, address string, b backoff.BackOff) (Transport, error) {
	if b == nil {
		b = resiliency.DefaultConnectBackoff()
	}
	return resiliency.RetryGet(ctx, b, func() (Transport, error) {
		return DialTCP(ctx, address)
	})
}

func dial(ctx context.Context, network, address string) (Transport, error) {
	var d net.Dialer
	conn, dialErr := d.DialContext(ctx, network, address)
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", network, address, dialErr)
	}

	return NewConnTransport(conn), nil
}

func (t *connTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *connTransport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}
	return t.conn.Read(p)
}

func (t *connTransport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}
	return t.conn.Write(p)
}

func (t *connTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}
