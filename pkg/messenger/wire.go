/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the size of the fixed frame header: size, message id, channel id.
	HeaderSize = 24

	// MaxPayloadSize is the largest payload a frame may carry.
	MaxPayloadSize = 10 * 1024 * 1024

	replyFlag uint64 = 1 << 63
	sizeMask  uint64 = replyFlag - 1
)

// EncodeFrame serializes the frame into a single contiguous buffer (header followed by payload).
func EncodeFrame(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d: %w", len(f.Payload), MaxPayloadSize, ErrPayloadTooLarge)
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	size := uint64(len(f.Payload))
	if f.IsReply {
		size |= replyFlag
	}
	binary.BigEndian.PutUint64(buf[0:8], size)
	binary.BigEndian.PutUint64(buf[8:16], uint64(f.MessageID))
	binary.BigEndian.PutUint64(buf[16:24], uint64(f.ChannelID))
	copy(buf[HeaderSize:], f.Payload)

	return buf, nil
}

// DecodeFrame reads exactly one frame from the reader.
// Returns io.EOF if the stream ended cleanly before the first header byte.
// The payload is never read if the header announces more than MaxPayloadSize bytes.
func DecodeFrame(r io.Reader) (*Frame, error) {
	var header [HeaderSize]byte
	if _, readErr := io.ReadFull(r, header[:]); readErr != nil {
		switch {
		case errors.Is(readErr, io.EOF):
			return nil, io.EOF
		case errors.Is(readErr, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: stream ended inside frame header", ErrMalformedFrame)
		default:
			return nil, fmt.Errorf("failed to read frame header: %w", readErr)
		}
	}

	rawSize := binary.BigEndian.Uint64(header[0:8])
	payloadSize := rawSize & sizeMask
	if payloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d: %w", ErrMalformedFrame, payloadSize, MaxPayloadSize, ErrPayloadTooLarge)
	}

	f := &Frame{
		Envelope: Envelope{
			MessageID: MessageID(binary.BigEndian.Uint64(header[8:16])),
			ChannelID: ChannelID(binary.BigEndian.Uint64(header[16:24])),
		},
		IsReply: rawSize&replyFlag != 0,
		Payload: make([]byte, payloadSize),
	}

	if _, readErr := io.ReadFull(r, f.Payload); readErr != nil {
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream ended after %d-byte payload was announced", ErrMalformedFrame, payloadSize)
		}
		return nil, fmt.Errorf("failed to read frame payload: %w", readErr)
	}

	return f, nil
}
