// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package remote

import (
	"github.com/microsoft/dbgmux/pkg/messenger"
)

// ManagementProtocolVersion is the version of the management protocol spoken on the default channel.
const ManagementProtocolVersion uint32 = 1

// HelloRequest must be the first request a client sends.
type HelloRequest struct {
	ProtocolVersion uint32 `cbor:"protocolVersion"`
	ClientName      string `cbor:"clientName,omitempty"`
}

// OpenChannelRequest asks the server to start a session with the target on a new channel.
type OpenChannelRequest struct {
	Target string `cbor:"target"`
}

// CloseChannelRequest asks the server to end the session on the channel.
type CloseChannelRequest struct {
	ChannelID messenger.ChannelID `cbor:"channelId"`
}

type ListChannelsRequest struct{}

// ManagementRequest carries exactly one of the request kinds.
type ManagementRequest struct {
	Hello        *HelloRequest        `cbor:"hello,omitempty"`
	OpenChannel  *OpenChannelRequest  `cbor:"openChannel,omitempty"`
	CloseChannel *CloseChannelRequest `cbor:"closeChannel,omitempty"`
	ListChannels *ListChannelsRequest `cbor:"listChannels,omitempty"`
}

// Kind returns the name of the operation the request asks for, or an empty string if it names none.
func (r ManagementRequest) Kind() string {
	switch {
	case r.Hello != nil:
		return "hello"
	case r.OpenChannel != nil:
		return "openChannel"
	case r.CloseChannel != nil:
		return "closeChannel"
	case r.ListChannels != nil:
		return "listChannels"
	default:
		return ""
	}
}

// ChannelInfo describes a session served on a channel.
type ChannelInfo struct {
	ChannelID messenger.ChannelID `cbor:"channelId"`
	Target    string              `cbor:"target"`
	SessionID string              `cbor:"sessionId"`
}

// ManagementResponse answers any ManagementRequest. Error is empty on success;
// the remaining fields are filled according to the request kind.
type ManagementResponse struct {
	Error           string              `cbor:"error,omitempty"`
	ProtocolVersion uint32              `cbor:"protocolVersion,omitempty"`
	ServerName      string              `cbor:"serverName,omitempty"`
	ChannelID       messenger.ChannelID `cbor:"channelId,omitempty"`
	SessionID       string              `cbor:"sessionId,omitempty"`
	Channels        []ChannelInfo       `cbor:"channels,omitempty"`
}

// ChannelClosedEvent tells the client that the server ended the session on a channel.
type ChannelClosedEvent struct {
	ChannelID messenger.ChannelID `cbor:"channelId"`
	Reason    string              `cbor:"reason,omitempty"`
}

type ManagementEvent struct {
	ChannelClosed *ChannelClosedEvent `cbor:"channelClosed,omitempty"`
}

type (
	managementServerConnection = ServerConnection[ManagementRequest, ManagementResponse, ManagementEvent]
	managementClientConnection = ClientConnection[ManagementRequest, ManagementResponse, ManagementEvent]
)
