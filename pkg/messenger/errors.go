/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame is returned when the data read from the transport is not a valid frame.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrDeadlineExceeded is returned when a timeout elapses before a reply or message arrives.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrCancelled is returned when the operation was abandoned because the messenger or the channel went away.
	ErrCancelled = errors.New("operation cancelled")

	// ErrMessengerClosed is returned by operations on a terminating or closed messenger.
	ErrMessengerClosed = fmt.Errorf("messenger is closed: %w", ErrCancelled)

	// ErrChannelClosed is returned to receivers blocked on a channel that has been deleted.
	ErrChannelClosed = fmt.Errorf("channel is closed: %w", ErrCancelled)

	// ErrNotInitialized is returned when a Messenger was not created with NewMessenger.
	ErrNotInitialized = errors.New("messenger is not initialized")

	// ErrDuplicateChannel is returned when adding a channel with an id that is already in use.
	ErrDuplicateChannel = errors.New("channel already exists")

	// ErrUnknownChannel is returned when an operation names a channel that does not exist.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrDefaultChannel is returned when attempting to delete the default channel.
	ErrDefaultChannel = errors.New("the default channel cannot be deleted")
)

// IsCancellation returns true if the operation failed because the messenger or the channel was closed.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsTimeout returns true if the operation failed because its timeout elapsed.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDeadlineExceeded)
}

// IsProtocolError returns true if the error indicates invalid data on the wire.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrPayloadTooLarge)
}
