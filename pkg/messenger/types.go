/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"fmt"
	"time"
)

// ChannelID identifies a logical channel. Unique among live channels of a Messenger.
type ChannelID uint64

// MessageID identifies a message for reply correlation. Unique for the lifetime of a Messenger.
type MessageID uint64

const (
	// DefaultChannel always exists and cannot be deleted.
	DefaultChannel ChannelID = 0

	// NoTimeout makes a blocking operation wait until it is satisfied or cancelled.
	// A negative timeout is already expired: the operation fails with ErrDeadlineExceeded
	// unless it can be satisfied without waiting.
	NoTimeout time.Duration = 0
)

// Envelope carries the routing (channel) and identity (message) of a single message.
type Envelope struct {
	ChannelID ChannelID
	MessageID MessageID
}

func (e Envelope) String() string {
	return fmt.Sprintf("channel %d, message %d", e.ChannelID, e.MessageID)
}

// Frame is the unit of data exchanged on the wire.
type Frame struct {
	Envelope
	IsReply bool
	Payload []byte
}

// MessengerState is the lifecycle state of a Messenger. It only moves forward.
type MessengerState int32

const (
	// MessengerStateOpen accepts all operations.
	MessengerStateOpen MessengerState = iota

	// MessengerStateTerminating rejects new operations while teardown is in progress.
	MessengerStateTerminating

	// MessengerStateClosed means teardown has finished and the dispatch loop has exited.
	MessengerStateClosed
)

func (s MessengerState) String() string {
	switch s {
	case MessengerStateOpen:
		return "Open"
	case MessengerStateTerminating:
		return "Terminating"
	case MessengerStateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("MessengerState(%d)", int32(s))
	}
}
