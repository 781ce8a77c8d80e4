/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dbgmux/pkg/testutil"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame Frame
	}{
		{"empty payload", Frame{Envelope: Envelope{ChannelID: 0, MessageID: 1}, Payload: []byte{}}},
		{"reply", Frame{Envelope: Envelope{ChannelID: 7, MessageID: 42}, IsReply: true, Payload: []byte("pong")}},
		{"max ids", Frame{Envelope: Envelope{ChannelID: ^ChannelID(0), MessageID: ^MessageID(0)}, IsReply: true, Payload: []byte{0xFF}}},
		{"random payload", Frame{Envelope: Envelope{ChannelID: 3, MessageID: 9}, Payload: testutil.GetRandBytes(t, 64*1024)}},
		{"max payload", Frame{Envelope: Envelope{ChannelID: 1, MessageID: 2}, Payload: testutil.GetRandBytes(t, MaxPayloadSize)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded, encodeErr := EncodeFrame(&tc.frame)
			require.NoError(t, encodeErr)
			require.Len(t, encoded, HeaderSize+len(tc.frame.Payload))

			decoded, decodeErr := DecodeFrame(testutil.NewOneByteReader(bytes.NewReader(encoded)))
			require.NoError(t, decodeErr)
			if diff := cmp.Diff(tc.frame, *decoded); diff != "" {
				t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
			}

			reencoded, reencodeErr := EncodeFrame(decoded)
			require.NoError(t, reencodeErr)
			assert.True(t, bytes.Equal(encoded, reencoded), "re-encoded frame differs from the original")
		})
	}
}

func TestFrameHeaderLayout(t *testing.T) {
	t.Parallel()

	encoded, err := EncodeFrame(&Frame{
		Envelope: Envelope{ChannelID: 0x0102, MessageID: 0x0304},
		IsReply:  true,
		Payload:  []byte("abc"),
	})
	require.NoError(t, err)

	expected := []byte{
		0x80, 0, 0, 0, 0, 0, 0, 3, // size with reply flag
		0, 0, 0, 0, 0, 0, 0x03, 0x04, // message id
		0, 0, 0, 0, 0, 0, 0x01, 0x02, // channel id
		'a', 'b', 'c',
	}
	assert.Equal(t, expected, encoded)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	_, err := EncodeFrame(&Frame{Payload: make([]byte, MaxPayloadSize+1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeRejectsOversizedFrameWithoutReadingPayload(t *testing.T) {
	t.Parallel()

	var header [HeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], MaxPayloadSize+1)
	binary.BigEndian.PutUint64(header[8:16], 1)

	// Plenty of data after the header; none of it may be consumed.
	data := append(header[:], make([]byte, 1024)...)
	reader := testutil.NewCountingReader(bytes.NewReader(data))

	_, err := DecodeFrame(reader)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.True(t, IsProtocolError(err))
	assert.Equal(t, int64(HeaderSize), reader.BytesRead())
}

func TestDecodeReplyFlagDoesNotCountTowardsSize(t *testing.T) {
	t.Parallel()

	var header [HeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], replyFlag|2)
	data := append(header[:], 'o', 'k')

	f, err := DecodeFrame(bytes.NewReader(data))
	require.NoError(t, err)
	assert.True(t, f.IsReply)
	assert.Equal(t, []byte("ok"), f.Payload)
}

func TestDecodeTruncatedInput(t *testing.T) {
	t.Parallel()

	full, err := EncodeFrame(&Frame{Envelope: Envelope{ChannelID: 1, MessageID: 1}, Payload: []byte("payload")})
	require.NoError(t, err)

	t.Run("empty stream", func(t *testing.T) {
		t.Parallel()
		_, decodeErr := DecodeFrame(bytes.NewReader(nil))
		assert.ErrorIs(t, decodeErr, io.EOF)
		assert.False(t, IsProtocolError(decodeErr))
	})

	t.Run("partial header", func(t *testing.T) {
		t.Parallel()
		_, decodeErr := DecodeFrame(bytes.NewReader(full[:HeaderSize-5]))
		assert.ErrorIs(t, decodeErr, ErrMalformedFrame)
	})

	t.Run("partial payload", func(t *testing.T) {
		t.Parallel()
		_, decodeErr := DecodeFrame(bytes.NewReader(full[:len(full)-2]))
		assert.ErrorIs(t, decodeErr, ErrMalformedFrame)
	})

	t.Run("header only", func(t *testing.T) {
		t.Parallel()
		_, decodeErr := DecodeFrame(bytes.NewReader(full[:HeaderSize]))
		assert.ErrorIs(t, decodeErr, ErrMalformedFrame)
	})
}

type failingReader struct {
	err error
}

func (fr failingReader) Read(_ []byte) (int, error) {
	return 0, fr.err
}

func TestDecodeWrapsTransportErrors(t *testing.T) {
	t.Parallel()

	ioErr := errors.New("connection reset")
	_, err := DecodeFrame(failingReader{err: ioErr})
	require.Error(t, err)
	assert.ErrorIs(t, err, ioErr)
	assert.False(t, IsProtocolError(err))
}
