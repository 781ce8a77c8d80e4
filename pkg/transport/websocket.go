/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	closeMessageTimeout    = 100 * time.Millisecond
	webSocketBufferSize    = 64 * 1024
	webSocketHandshakeTime = 10 * time.Second
)

// webSocketTransport presents a sequence of binary WebSocket messages as a byte stream.
// Message boundaries carry no meaning; a Read may span several messages.
type webSocketTransport struct {
	conn *websocket.Conn

	// reader is the reader for the message currently being consumed.
	// Only used by Read, which must not be called concurrently.
	reader io.Reader

	// writeMu protects concurrent writes to the connection
	writeMu sync.Mutex

	// closed indicates whether the transport has been closed
	closed bool
	mu     sync.Mutex
}

// NewWebSocketTransport creates a new Transport backed by an established WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &webSocketTransport{
		conn: conn,
	}
}

// DialWebSocket connects to the WebSocket endpoint at the specified URL and returns a Transport.
func DialWebSocket(ctx context.Context, url string, header http.Header) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: webSocketHandshakeTime,
		ReadBufferSize:   webSocketBufferSize,
		WriteBufferSize:  webSocketBufferSize,
	}

	conn, resp, dialErr := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial WebSocket %s: %w", url, dialErr)
	}

	return NewWebSocketTransport(conn), nil
}

// UpgradeWebSocket upgrades an incoming HTTP request to a WebSocket connection and returns a Transport.
// On failure the upgrader has already replied to the client with an HTTP error.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (Transport, error) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: webSocketHandshakeTime,
		ReadBufferSize:   webSocketBufferSize,
		WriteBufferSize:  webSocketBufferSize,
	}

	conn, upgradeErr := upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		return nil, fmt.Errorf("failed to upgrade connection to WebSocket: %w", upgradeErr)
	}

	return NewWebSocketTransport(conn), nil
}

func (t *webSocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *webSocketTransport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if t.reader == nil {
			msgType, reader, nextErr := t.conn.NextReader()
			if nextErr != nil {
				var closeErr *websocket.CloseError
				if errors.As(nextErr, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
					return 0, io.EOF
				}
				return 0, nextErr
			}
			if msgType != websocket.BinaryMessage {
				return 0, fmt.Errorf("unexpected WebSocket message type %d, only binary messages are supported", msgType)
			}
			t.reader = reader
		}

		n, readErr := t.reader.Read(p)
		if errors.Is(readErr, io.EOF) {
			t.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, readErr
	}
}

func (t *webSocketTransport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := t.conn.WriteMessage(websocket.BinaryMessage, p); writeErr != nil {
		return 0, writeErr
	}
	return len(p), nil
}

func (t *webSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	// Telling the peer is best-effort; the connection is closed regardless.
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeMessageTimeout),
	)

	return t.conn.Close()
}
