// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/smallnest/chanx"

	"github.com/microsoft/dbgmux/pkg/messenger"
)

// RequestID identifies a request received by a ServerConnection, for answering it.
type RequestID = messenger.MessageID

const postedEventsInitialCapacity = 16

// ClientConnection sends typed requests over a channel and receives typed events from it.
type ClientConnection[Req, Resp, Evt any] struct {
	channel   *messenger.ChannelMessenger
	reqCodec  Codec[Req]
	respCodec Codec[Resp]
	evtCodec  Codec[Evt]
}

func NewClientConnection[Req, Resp, Evt any](
	channel *messenger.ChannelMessenger,
	reqCodec Codec[Req],
	respCodec Codec[Resp],
	evtCodec Codec[Evt],
) *ClientConnection[Req, Resp, Evt] {
	return &ClientConnection[Req, Resp, Evt]{
		channel:   channel,
		reqCodec:  reqCodec,
		respCodec: respCodec,
		evtCodec:  evtCodec,
	}
}

func (c *ClientConnection[Req, Resp, Evt]) Channel() *messenger.ChannelMessenger {
	return c.channel
}

// SendRequest sends the request and waits for the response.
func (c *ClientConnection[Req, Resp, Evt]) SendRequest(ctx context.Context, req Req, timeout time.Duration) (Resp, error) {
	var resp Resp

	payload, marshalErr := c.reqCodec.Marshal(req)
	if marshalErr != nil {
		return resp, marshalErr
	}

	replyPayload, sendErr := c.channel.SendMessageAndWait(ctx, payload, timeout)
	if sendErr != nil {
		return resp, sendErr
	}

	return c.respCodec.Unmarshal(replyPayload)
}

// SendNotification sends a request that expects no response.
func (c *ClientConnection[Req, Resp, Evt]) SendNotification(req Req) error {
	payload, marshalErr := c.reqCodec.Marshal(req)
	if marshalErr != nil {
		return marshalErr
	}
	_, sendErr := c.channel.SendMessage(payload)
	return sendErr
}

// NextEvent waits for the next event sent by the server.
func (c *ClientConnection[Req, Resp, Evt]) NextEvent(ctx context.Context, timeout time.Duration) (Evt, error) {
	var evt Evt

	_, payload, receiveErr := c.channel.ReceiveMessage(ctx, timeout)
	if receiveErr != nil {
		return evt, receiveErr
	}

	return c.evtCodec.Unmarshal(payload)
}

func (c *ClientConnection[Req, Resp, Evt]) Close() error {
	return c.channel.Close()
}

// ServerConnection receives typed requests from a channel, answers them, and sends typed events.
type ServerConnection[Req, Resp, Evt any] struct {
	channel   *messenger.ChannelMessenger
	reqCodec  Codec[Req]
	respCodec Codec[Resp]
	evtCodec  Codec[Evt]

	// posted holds events queued by PostEvent until the sender goroutine writes them
	posted *chanx.UnboundedChan[Evt]

	// postingCtx ends when the connection is closed; stopPosting ends it
	postingCtx  context.Context
	stopPosting context.CancelFunc

	log logr.Logger
}

func NewServerConnection[Req, Resp, Evt any](
	lifetimeCtx context.Context,
	channel *messenger.ChannelMessenger,
	reqCodec Codec[Req],
	respCodec Codec[Resp],
	evtCodec Codec[Evt],
	log logr.Logger,
) *ServerConnection[Req, Resp, Evt] {
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	postingCtx, stopPosting := context.WithCancel(lifetimeCtx)
	sc := &ServerConnection[Req, Resp, Evt]{
		channel:     channel,
		reqCodec:    reqCodec,
		respCodec:   respCodec,
		evtCodec:    evtCodec,
		posted:      chanx.NewUnboundedChan[Evt](postingCtx, postedEventsInitialCapacity),
		postingCtx:  postingCtx,
		stopPosting: stopPosting,
		log:         log,
	}

	go sc.sendPostedEvents(postingCtx)

	return sc
}

func (s *ServerConnection[Req, Resp, Evt]) Channel() *messenger.ChannelMessenger {
	return s.channel
}

// ReceiveRequest waits for the next request from the client.
// If the request cannot be decoded, the returned error wraps ErrInvalidRequest and the request id is still valid,
// so that the caller can answer with an error response.
func (s *ServerConnection[Req, Resp, Evt]) ReceiveRequest(ctx context.Context, timeout time.Duration) (Req, RequestID, error) {
	var req Req

	id, payload, receiveErr := s.channel.ReceiveMessage(ctx, timeout)
	if receiveErr != nil {
		return req, 0, receiveErr
	}

	req, unmarshalErr := s.reqCodec.Unmarshal(payload)
	if unmarshalErr != nil {
		return req, id, fmt.Errorf("%w: %w", ErrInvalidRequest, unmarshalErr)
	}
	return req, id, nil
}

func (s *ServerConnection[Req, Resp, Evt]) SendResponse(id RequestID, resp Resp) error {
	payload, marshalErr := s.respCodec.Marshal(resp)
	if marshalErr != nil {
		return marshalErr
	}
	return s.channel.SendReply(id, payload)
}

// SendEvent writes the event to the client immediately.
func (s *ServerConnection[Req, Resp, Evt]) SendEvent(evt Evt) error {
	payload, marshalErr := s.evtCodec.Marshal(evt)
	if marshalErr != nil {
		return marshalErr
	}
	_, sendErr := s.channel.SendMessage(payload)
	return sendErr
}

// PostEvent queues the event for sending and returns without blocking.
// Posted events are sent in the order they were posted.
// Events posted after the connection is closed are discarded.
func (s *ServerConnection[Req, Resp, Evt]) PostEvent(evt Evt) {
	select {
	case s.posted.In <- evt:
	case <-s.postingCtx.Done():
	}
}

func (s *ServerConnection[Req, Resp, Evt]) sendPostedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.posted.Out:
			if !ok {
				return
			}
			if sendErr := s.SendEvent(evt); sendErr != nil {
				s.log.V(1).Info("Could not send posted event", "Error", sendErr.Error())
				if messenger.IsCancellation(sendErr) {
					return
				}
			}
		}
	}
}

// Close stops sending posted events and deletes the channel.
func (s *ServerConnection[Req, Resp, Evt]) Close() error {
	s.stopPosting()
	return s.channel.Close()
}
