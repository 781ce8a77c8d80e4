// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package remote

import (
	"encoding/json"
	"fmt"

	cborlib "github.com/fxamacker/cbor/v2"
	"github.com/google/go-dap"
)

// Codec converts typed values to and from message payloads.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// CBORCodec encodes values as CBOR.
type CBORCodec[T any] struct{}

func (CBORCodec[T]) Marshal(v T) ([]byte, error) {
	data, marshalErr := cborlib.Marshal(v)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, marshalErr)
	}
	return data, nil
}

func (CBORCodec[T]) Unmarshal(data []byte) (T, error) {
	var v T
	if unmarshalErr := cborlib.Unmarshal(data, &v); unmarshalErr != nil {
		return v, fmt.Errorf("failed to decode %T: %w", v, unmarshalErr)
	}
	return v, nil
}

// DAPCodec encodes Debug Adapter Protocol messages as their JSON body, without the Content-Length header.
type DAPCodec struct{}

func (DAPCodec) Marshal(msg dap.Message) ([]byte, error) {
	payload, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to serialize DAP message: %w", marshalErr)
	}
	return payload, nil
}

func (DAPCodec) Unmarshal(data []byte) (dap.Message, error) {
	msg, decodeErr := dap.DecodeProtocolMessage(data)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode DAP message: %w", decodeErr)
	}
	return msg, nil
}

var (
	_ Codec[dap.Message]       = DAPCodec{}
	_ Codec[ManagementRequest] = CBORCodec[ManagementRequest]{}
)
