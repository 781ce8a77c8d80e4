/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/microsoft/dbgmux/pkg/resiliency"
)

const readBufferSize = 64 * 1024

// dispatchLoop is the only reader of the transport. It routes every frame it reads
// until reading fails, then tears the messenger down.
func (m *Messenger) dispatchLoop() {
	defer func() {
		_ = m.stopContextWatch()
		<-m.teardown.Done()
		m.state.Store(int32(MessengerStateClosed))
		m.log.V(1).Info("Messenger closed")
		close(m.done)
	}()

	reader := bufio.NewReaderSize(m.transport, readBufferSize)

	readErr := resiliency.CallWithPanicRecovery(func() error {
		for {
			f, decodeErr := DecodeFrame(reader)
			if decodeErr != nil {
				return decodeErr
			}
			m.dispatch(f)
		}
	}, m.log)

	switch {
	case m.teardown.IsTaken():
		// Shutdown was requested elsewhere; the read failed because the transport was closed.
	case errors.Is(readErr, io.EOF):
		m.log.Info("Peer closed the connection")
		readErr = fmt.Errorf("transport closed by peer: %w", io.EOF)
	default:
		m.log.Error(readErr, "Reading from transport failed, shutting down")
	}

	m.terminate(readErr)
}

func (m *Messenger) dispatch(f *Frame) {
	m.metrics.frameReceived()

	if f.IsReply {
		if !m.replies.Fulfill(f) {
			m.metrics.frameDropped()
			m.log.V(1).Info("Dropping reply nobody is waiting for", "Channel", f.ChannelID, "MessageID", f.MessageID)
		}
		return
	}

	if !m.channels.Deliver(f) {
		m.metrics.frameDropped()
		m.log.V(1).Info("Dropping message for unknown channel", "Channel", f.ChannelID, "MessageID", f.MessageID)
		return
	}

	m.log.V(1).Info("Frame received", "Channel", f.ChannelID, "MessageID", f.MessageID, "Size", len(f.Payload))
}
