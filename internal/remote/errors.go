// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package remote

import (
	"errors"
)

var (
	// ErrProtocolVersionMismatch is returned when the peers speak different versions of the management protocol.
	ErrProtocolVersionMismatch = errors.New("management protocol version mismatch")

	// ErrHelloRequired is returned by the server when the first request of a connection is not Hello.
	ErrHelloRequired = errors.New("the first request must be Hello")

	// ErrInvalidRequest is returned when a request cannot be decoded or names no operation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRequestFailed is returned by the client when the server answers a request with an error.
	ErrRequestFailed = errors.New("request failed")

	// ErrChannelEnded is returned by OpenChannel when the session ended before the channel could be registered.
	ErrChannelEnded = errors.New("channel ended")

	// ErrTargetNotAllowed is returned when a client asks for a session with a target the server does not allow.
	ErrTargetNotAllowed = errors.New("target not allowed")
)
