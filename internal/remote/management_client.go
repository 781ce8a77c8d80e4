// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgmux/pkg/messenger"
)

const DefaultRequestTimeout = 10 * time.Second

// ClientConfig holds configuration for a ManagementClient.
type ClientConfig struct {
	// Name is reported to the server in the Hello request.
	Name string

	// RequestTimeout limits how long the client waits for each management response.
	// If zero, DefaultRequestTimeout is used.
	RequestTimeout time.Duration

	// OnChannelClosed is called (from the event loop goroutine) when the server ends a session.
	// Optional.
	OnChannelClosed func(ChannelClosedEvent)

	// Logger for client operations.
	// If zero, logging is discarded.
	Logger logr.Logger
}

// ManagementClient issues management requests over the default channel of a messenger.
type ManagementClient struct {
	messenger      *messenger.Messenger
	conn           *managementClientConnection
	config         ClientConfig
	requestTimeout time.Duration
	serverName     string
	eventLoopDone  chan struct{}
	log            logr.Logger

	// endedEarly holds channels the server closed before OpenChannel registered them.
	endedEarly map[messenger.ChannelID]struct{}
	channelsMu sync.Mutex
}

// NewManagementClient creates a client and starts processing server events.
// The event loop runs until the context is done or the messenger shuts down.
func NewManagementClient(ctx context.Context, m *messenger.Messenger, config ClientConfig) *ManagementClient {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}

	c := &ManagementClient{
		messenger: m,
		conn: NewClientConnection(
			m.Channel(messenger.DefaultChannel),
			CBORCodec[ManagementRequest]{},
			CBORCodec[ManagementResponse]{},
			CBORCodec[ManagementEvent]{},
		),
		config:         config,
		requestTimeout: requestTimeout,
		eventLoopDone:  make(chan struct{}),
		log:            log,
		endedEarly:     make(map[messenger.ChannelID]struct{}),
	}

	go c.processEvents(ctx)

	return c
}

func (c *ManagementClient) Messenger() *messenger.Messenger {
	return c.messenger
}

// ServerName returns the name the server reported in its Hello response.
func (c *ManagementClient) ServerName() string {
	return c.serverName
}

// EventLoopDone returns a channel that is closed when the client stops processing server events.
func (c *ManagementClient) EventLoopDone() <-chan struct{} {
	return c.eventLoopDone
}

// Hello negotiates the protocol version. It must be the first request.
func (c *ManagementClient) Hello(ctx context.Context) error {
	req := ManagementRequest{Hello: &HelloRequest{
		ProtocolVersion: ManagementProtocolVersion,
		ClientName:      c.config.Name,
	}}

	resp, err := c.conn.SendRequest(ctx, req, c.requestTimeout)
	if err != nil {
		return fmt.Errorf("hello request failed: %w", err)
	}

	// The server reports its version even when it rejects ours.
	if resp.ProtocolVersion != ManagementProtocolVersion {
		return fmt.Errorf("%w: server speaks version %d, client speaks version %d",
			ErrProtocolVersionMismatch, resp.ProtocolVersion, ManagementProtocolVersion)
	}
	if resp.Error != "" {
		return fmt.Errorf("hello: %w: %s", ErrRequestFailed, resp.Error)
	}

	c.serverName = resp.ServerName
	c.log.V(1).Info("Connected to management server", "Server", resp.ServerName)
	return nil
}

// OpenChannel asks the server to start a session with the target and returns the channel serving it.
func (c *ManagementClient) OpenChannel(ctx context.Context, target string) (*messenger.ChannelMessenger, error) {
	resp, err := c.request(ctx, ManagementRequest{OpenChannel: &OpenChannelRequest{Target: target}})
	if err != nil {
		return nil, err
	}

	c.channelsMu.Lock()
	if _, ended := c.endedEarly[resp.ChannelID]; ended {
		delete(c.endedEarly, resp.ChannelID)
		c.channelsMu.Unlock()
		return nil, fmt.Errorf("%w: session on channel %d ended before it could be used", ErrChannelEnded, resp.ChannelID)
	}
	addErr := c.messenger.AddChannel(resp.ChannelID)
	c.channelsMu.Unlock()

	if addErr != nil {
		// Do not leave an orphaned session on the server.
		_ = c.CloseChannel(ctx, resp.ChannelID)
		return nil, fmt.Errorf("could not register channel %d: %w", resp.ChannelID, addErr)
	}

	c.log.V(1).Info("Channel opened", "Channel", resp.ChannelID, "Target", target, "SessionID", resp.SessionID)
	return c.messenger.Channel(resp.ChannelID), nil
}

// CloseChannel asks the server to end the session on the channel and deletes the channel locally.
func (c *ManagementClient) CloseChannel(ctx context.Context, channelID messenger.ChannelID) error {
	_, requestErr := c.request(ctx, ManagementRequest{CloseChannel: &CloseChannelRequest{ChannelID: channelID}})

	deleteErr := c.messenger.DeleteChannel(channelID)
	if errors.Is(deleteErr, messenger.ErrUnknownChannel) {
		deleteErr = nil
	}

	return errors.Join(requestErr, deleteErr)
}

// ListChannels returns the sessions the server is running for this client.
func (c *ManagementClient) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	resp, err := c.request(ctx, ManagementRequest{ListChannels: &ListChannelsRequest{}})
	if err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

func (c *ManagementClient) request(ctx context.Context, req ManagementRequest) (ManagementResponse, error) {
	resp, err := c.conn.SendRequest(ctx, req, c.requestTimeout)
	if err != nil {
		return resp, fmt.Errorf("%s request failed: %w", req.Kind(), err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s: %w: %s", req.Kind(), ErrRequestFailed, resp.Error)
	}
	return resp, nil
}

func (c *ManagementClient) processEvents(ctx context.Context) {
	defer close(c.eventLoopDone)

	for {
		evt, err := c.conn.NextEvent(ctx, messenger.NoTimeout)
		if err != nil {
			if ctx.Err() != nil || messenger.IsCancellation(err) {
				return
			}
			c.log.Info("Ignoring malformed management event", "Error", err.Error())
			continue
		}

		if evt.ChannelClosed == nil {
			continue
		}

		closed := *evt.ChannelClosed
		c.log.V(1).Info("Server closed channel", "Channel", closed.ChannelID, "Reason", closed.Reason)
		c.forgetChannel(closed.ChannelID)
		if c.config.OnChannelClosed != nil {
			c.config.OnChannelClosed(closed)
		}
	}
}

// forgetChannel deletes a channel closed by the server.
// A channel that is not registered yet belongs to an OpenChannel call still in flight.
func (c *ManagementClient) forgetChannel(channelID messenger.ChannelID) {
	c.channelsMu.Lock()
	defer c.channelsMu.Unlock()

	deleteErr := c.messenger.DeleteChannel(channelID)
	switch {
	case errors.Is(deleteErr, messenger.ErrUnknownChannel):
		c.endedEarly[channelID] = struct{}{}
	case deleteErr != nil:
		c.log.V(1).Info("Could not delete channel closed by server", "Channel", channelID, "Error", deleteErr.Error())
	}
}
