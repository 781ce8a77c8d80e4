// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgmux/internal/remote"
	"github.com/microsoft/dbgmux/pkg/messenger"
	"github.com/microsoft/dbgmux/pkg/resiliency"
)

// pumpConfig controls how DAP messages are forwarded between a stream and a channel.
type pumpConfig struct {
	// waitForPeer holds back messages from the stream until the first message arrives on the channel.
	// The server side of a channel must not send before the client has registered the channel id.
	waitForPeer bool

	log logr.Logger
}

// pump forwards DAP messages in both directions between the stream and the channel
// until either side ends or the context is done. The stream is closed before pump returns.
// Returns nil if the session ended normally.
func pump(ctx context.Context, stream *dapStream, channel *messenger.ChannelMessenger, config pumpConfig) error {
	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()

	codec := remote.DAPCodec{}
	peerSeen := make(chan struct{})
	if !config.waitForPeer {
		close(peerSeen)
	}

	errChan := make(chan error, 2)

	// Channel -> stream
	go func() {
		errChan <- resiliency.CallWithPanicRecovery(func() error {
			firstMessage := config.waitForPeer
			for {
				_, payload, receiveErr := channel.ReceiveMessage(pumpCtx, messenger.NoTimeout)
				if receiveErr != nil {
					return fmt.Errorf("channel receive: %w", receiveErr)
				}
				if firstMessage {
					close(peerSeen)
					firstMessage = false
				}

				msg, decodeErr := codec.Unmarshal(payload)
				if decodeErr != nil {
					config.log.Info("Dropping undecodable message from channel", "Error", decodeErr.Error())
					continue
				}
				if writeErr := stream.WriteMessage(msg); writeErr != nil {
					return writeErr
				}
			}
		}, config.log)
	}()

	// Stream -> channel
	go func() {
		errChan <- resiliency.CallWithPanicRecovery(func() error {
			select {
			case <-peerSeen:
			case <-pumpCtx.Done():
				return pumpCtx.Err()
			}

			for {
				msg, readErr := stream.ReadMessage()
				if readErr != nil {
					return readErr
				}

				payload, encodeErr := codec.Marshal(msg)
				if encodeErr != nil {
					config.log.Info("Dropping message that could not be serialized", "Error", encodeErr.Error())
					continue
				}
				if _, sendErr := channel.SendMessage(payload); sendErr != nil {
					return fmt.Errorf("channel send: %w", sendErr)
				}
			}
		}, config.log)
	}()

	result := <-errChan

	// Stop the other direction: closing the stream unblocks its reader, cancelling the context unblocks the channel receiver.
	cancelPump()
	if closeErr := stream.Close(); closeErr != nil {
		config.log.V(1).Info("Error closing DAP stream", "Error", closeErr.Error())
	}
	<-errChan

	if isNormalEnd(result) || ctx.Err() != nil {
		return nil
	}
	return result
}

func isNormalEnd(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		messenger.IsCancellation(err)
}
