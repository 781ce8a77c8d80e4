// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tunnel

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/google/go-dap"

	"github.com/microsoft/dbgmux/pkg/transport"
)

// dapStream reads and writes Content-Length framed DAP messages over a transport.
// ReadMessage must not be called concurrently; WriteMessage may be.
type dapStream struct {
	transport transport.Transport
	reader    *bufio.Reader
	writer    *bufio.Writer

	// writeMu protects concurrent writes to the transport
	writeMu sync.Mutex
}

func newDAPStream(t transport.Transport) *dapStream {
	return &dapStream{
		transport: t,
		reader:    bufio.NewReader(t),
		writer:    bufio.NewWriter(t),
	}
}

func (s *dapStream) ReadMessage() (dap.Message, error) {
	msg, readErr := dap.ReadProtocolMessage(s.reader)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	return msg, nil
}

func (s *dapStream) WriteMessage(msg dap.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	writeErr := dap.WriteProtocolMessage(s.writer, msg)
	if writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	flushErr := s.writer.Flush()
	if flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

// Close is idempotent; it unblocks a pending ReadMessage.
func (s *dapStream) Close() error {
	return s.transport.Close()
}
