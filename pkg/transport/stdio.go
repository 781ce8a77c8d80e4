/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// stdioTransport implements Transport over a pair of unidirectional streams,
// such as the standard input and output of a process.
type stdioTransport struct {
	in  io.ReadCloser
	out io.WriteCloser

	// reader is what Read reads from: in, or a pollable duplicate of it that is always closed by Close
	reader     io.Reader
	pollableIn *os.File

	closeInput  bool
	closeOutput bool

	// closed indicates whether the transport has been closed
	closed bool
	mu     sync.Mutex
}

type StdioOption func(*stdioTransport)

// WithoutClosingInput leaves the input stream open when the transport is closed.
// Unless the input is an *os.File that can be made pollable, Close then no longer unblocks a pending Read.
func WithoutClosingInput() StdioOption {
	return func(t *stdioTransport) {
		t.closeInput = false
	}
}

// WithoutClosingOutput leaves the output stream open when the transport is closed.
func WithoutClosingOutput() StdioOption {
	return func(t *stdioTransport) {
		t.closeOutput = false
	}
}

// NewStdioTransport creates a new Transport that reads from in and writes to out.
// By default closing the transport closes both streams.
//
// A blocking file descriptor (such as standard input inherited from a parent process) does not
// wake a pending read when it is closed. If in is an *os.File, the transport reads from a
// non-blocking duplicate of its descriptor instead, which Close always closes. The non-blocking
// mode is shared by every descriptor that refers to the same open file.
func NewStdioTransport(in io.ReadCloser, out io.WriteCloser, opts ...StdioOption) Transport {
	t := &stdioTransport{
		in:          in,
		out:         out,
		reader:      in,
		closeInput:  true,
		closeOutput: true,
	}
	for _, opt := range opts {
		opt(t)
	}

	if f, isFile := in.(*os.File); isFile {
		// Fall back to reading from the file directly if the platform does not support this.
		if pollable, pollErr := newPollableFile(f); pollErr == nil {
			t.pollableIn = pollable
			t.reader = pollable
		}
	}

	return t
}

func (t *stdioTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *stdioTransport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}
	return t.reader.Read(p)
}

func (t *stdioTransport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, ErrTransportClosed
	}
	return t.out.Write(p)
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var closeErrs []error
	if t.pollableIn != nil {
		if pollErr := t.pollableIn.Close(); pollErr != nil {
			closeErrs = append(closeErrs, fmt.Errorf("failed to close input stream: %w", pollErr))
		}
	}
	if t.closeInput {
		if inErr := t.in.Close(); inErr != nil {
			closeErrs = append(closeErrs, fmt.Errorf("failed to close input stream: %w", inErr))
		}
	}
	if t.closeOutput {
		if outErr := t.out.Close(); outErr != nil {
			closeErrs = append(closeErrs, fmt.Errorf("failed to close output stream: %w", outErr))
		}
	}
	return errors.Join(closeErrs...)
}
