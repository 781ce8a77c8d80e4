/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package messenger multiplexes independent logical channels and request/reply exchanges
// over a single full-duplex byte stream.
//
// Every message travels as one frame: a 24-byte big-endian header (payload size with the
// reply flag in the top bit, message id, channel id) followed by an opaque payload.
// A single background goroutine reads frames from the transport. Replies are routed to the
// caller waiting for the matching message id; everything else is queued on its channel.
//
// Channel 0 is the default channel. It exists for the whole life of a Messenger and cannot
// be deleted.
package messenger
