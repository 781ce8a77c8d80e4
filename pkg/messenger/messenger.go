/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/microsoft/dbgmux/pkg/concurrency"
	"github.com/microsoft/dbgmux/pkg/transport"
)

// MessengerConfig holds configuration for a Messenger.
type MessengerConfig struct {
	// Name identifies the messenger in logs and metrics.
	// If empty, a random name is generated.
	Name string

	// Logger for messenger operations.
	// If zero, logging is discarded.
	Logger logr.Logger

	// MeterProvider used to create messenger metrics.
	// If nil, the process-wide telemetry system is used.
	MeterProvider metric.MeterProvider
}

// Messenger multiplexes channels and request/reply exchanges over a single transport.
// All methods are safe for concurrent use.
type Messenger struct {
	// name identifies the messenger in logs and metrics
	name string

	// transport is the underlying byte stream
	transport transport.Transport

	// writeMu keeps the bytes of each frame contiguous on the wire
	writeMu sync.Mutex

	// lastMessageID is the last message id handed out
	lastMessageID atomic.Uint64

	// channels tracks live channels and their queues
	channels *channelRegistry

	// replies tracks callers waiting for replies
	replies *replyTable

	metrics *messengerMetrics

	// state is the current MessengerState
	state atomic.Int32

	// teardown runs the shutdown sequence exactly once; the result is the transport close error
	teardown *concurrency.OneTimeJob[error]

	// cause records why the messenger terminated; written before teardown completes
	cause error

	// done is closed after teardown has completed and the dispatch loop has exited
	done chan struct{}

	// stopContextWatch detaches the messenger from its lifetime context
	stopContextWatch func() bool

	log logr.Logger
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewMessenger creates a Messenger that owns the transport and starts its dispatch loop.
// The messenger shuts down when the lifetime context is done, when Close() is called,
// or when reading from the transport fails. The lifetime context must not be nil.
func NewMessenger(lifetimeCtx context.Context, t transport.Transport, config MessengerConfig) *Messenger {
	name := config.Name
	if name == "" {
		name = "messenger-" + uuid.NewString()[:8]
	}

	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log = log.WithValues("Messenger", name)

	metrics := newMessengerMetrics(config.MeterProvider, name)

	m := &Messenger{
		name:      name,
		transport: t,
		channels:  newChannelRegistry(metrics),
		replies:   newReplyTable(metrics),
		metrics:   metrics,
		teardown:  concurrency.NewOneTimeJob[error](),
		done:      make(chan struct{}),
		log:       log,
	}
	m.state.Store(int32(MessengerStateOpen))

	m.stopContextWatch = context.AfterFunc(lifetimeCtx, func() {
		m.log.V(1).Info("Lifetime context done, shutting down")
		m.terminate(ErrMessengerClosed)
	})

	go m.dispatchLoop()

	m.log.V(1).Info("Messenger started")
	return m
}

func (m *Messenger) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// State returns the current lifecycle state of the messenger.
func (m *Messenger) State() MessengerState {
	if m == nil || m.teardown == nil {
		return MessengerStateClosed
	}
	return MessengerState(m.state.Load())
}

// Done returns a channel that is closed when the messenger has fully shut down.
func (m *Messenger) Done() <-chan struct{} {
	if m.checkInitialized() != nil {
		return closedChan
	}
	return m.done
}

// Err returns nil while the messenger is open.
// After shutdown it returns the reason: ErrMessengerClosed for an explicit close,
// otherwise an error wrapping both ErrMessengerClosed and the transport or protocol failure.
func (m *Messenger) Err() error {
	if m.checkInitialized() != nil {
		return ErrNotInitialized
	}
	if !m.teardown.IsDone() {
		return nil
	}
	return m.cause
}

// Close shuts down the messenger and waits until the dispatch loop has exited.
// Every blocked caller is woken with an error that satisfies IsCancellation.
// Calling Close more than once is safe; later calls return the same result.
func (m *Messenger) Close() error {
	if err := m.checkInitialized(); err != nil {
		return err
	}

	m.terminate(ErrMessengerClosed)
	<-m.done
	return m.teardown.WaitResult()
}

// NewChannel creates a channel with a fresh id.
func (m *Messenger) NewChannel() (ChannelID, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	id, err := m.channels.NewChannel()
	if err == nil {
		m.log.V(1).Info("Channel created", "Channel", id)
	}
	return id, err
}

// AddChannel creates a channel with an id chosen by the peer.
func (m *Messenger) AddChannel(id ChannelID) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	err := m.channels.AddChannel(id)
	if err == nil {
		m.log.V(1).Info("Channel added", "Channel", id)
	}
	return err
}

// DeleteChannel removes the channel. Receivers blocked on it are woken with ErrChannelClosed,
// and frames queued on it are discarded. The default channel cannot be deleted.
func (m *Messenger) DeleteChannel(id ChannelID) error {
	if id == DefaultChannel {
		return ErrDefaultChannel
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	err := m.channels.DeleteChannel(id)
	if err == nil {
		m.log.V(1).Info("Channel deleted", "Channel", id)
	}
	return err
}

// HasChannel returns true if the channel is live.
func (m *Messenger) HasChannel(id ChannelID) bool {
	if m.checkInitialized() != nil {
		return false
	}
	return m.channels.Has(id)
}

// ChannelIDs returns the ids of all live channels in ascending order.
func (m *Messenger) ChannelIDs() []ChannelID {
	if m.checkInitialized() != nil {
		return nil
	}
	return m.channels.IDs()
}

// SendMessage writes a message to the channel without waiting for any response.
func (m *Messenger) SendMessage(channelID ChannelID, payload []byte) (MessageID, error) {
	if err := m.checkSendable(channelID); err != nil {
		return 0, err
	}

	id := m.nextMessageID()
	if err := m.writeFrame(&Frame{Envelope: Envelope{ChannelID: channelID, MessageID: id}, Payload: payload}); err != nil {
		return 0, err
	}
	return id, nil
}

// SendMessageAndWait writes a message to the channel and waits for the peer to reply to it.
// A timeout of NoTimeout waits until the reply arrives, the context is done, or the messenger closes.
func (m *Messenger) SendMessageAndWait(ctx context.Context, channelID ChannelID, payload []byte, timeout time.Duration) ([]byte, error) {
	if err := m.checkSendable(channelID); err != nil {
		return nil, err
	}

	id := m.nextMessageID()

	// Register first, so that the reply can be matched no matter how quickly it arrives.
	w, registerErr := m.replies.Register(id)
	if registerErr != nil {
		return nil, registerErr
	}

	if writeErr := m.writeFrame(&Frame{Envelope: Envelope{ChannelID: channelID, MessageID: id}, Payload: payload}); writeErr != nil {
		if !m.replies.Remove(id, w) {
			// Cancelled concurrently (the messenger is shutting down); the write error is more informative.
			_, _ = w.collect()
		}
		return nil, writeErr
	}

	reply, awaitErr := m.replies.Await(ctx, id, w, timeout)
	if awaitErr != nil {
		m.log.V(1).Info("Waiting for reply failed", "Channel", channelID, "MessageID", id, "Error", awaitErr.Error())
		return nil, awaitErr
	}
	return reply.Payload, nil
}

// SendReply writes a reply to the message identified by the envelope.
// The reply is routed by message id; the channel is carried along but not checked.
func (m *Messenger) SendReply(envelope Envelope, payload []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.writeFrame(&Frame{Envelope: envelope, IsReply: true, Payload: payload})
}

// ReceiveMessage returns the oldest message received on the channel,
// waiting for one to arrive if the channel queue is empty.
// A timeout of NoTimeout waits until a message arrives, the context is done, or the channel is closed.
func (m *Messenger) ReceiveMessage(ctx context.Context, channelID ChannelID, timeout time.Duration) (MessageID, []byte, error) {
	if err := m.checkOpen(); err != nil {
		return 0, nil, err
	}

	f, err := m.channels.Receive(ctx, channelID, timeout)
	if err != nil {
		return 0, nil, err
	}
	return f.MessageID, f.Payload, nil
}

// ReceiveAnyMessage returns the oldest message received on any channel,
// waiting for one to arrive if all channel queues are empty.
func (m *Messenger) ReceiveAnyMessage(ctx context.Context, timeout time.Duration) (Envelope, []byte, error) {
	if err := m.checkOpen(); err != nil {
		return Envelope{}, nil, err
	}

	f, err := m.channels.ReceiveAny(ctx, timeout)
	if err != nil {
		return Envelope{}, nil, err
	}
	return f.Envelope, f.Payload, nil
}

// Channel returns a view of the messenger scoped to a single channel.
func (m *Messenger) Channel(id ChannelID) *ChannelMessenger {
	return &ChannelMessenger{
		messenger: m,
		id:        id,
	}
}

func (m *Messenger) nextMessageID() MessageID {
	return MessageID(m.lastMessageID.Add(1))
}

func (m *Messenger) writeFrame(f *Frame) error {
	data, encodeErr := EncodeFrame(f)
	if encodeErr != nil {
		m.metrics.sendFailure()
		return encodeErr
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.State() != MessengerStateOpen {
		return ErrMessengerClosed
	}

	if _, writeErr := m.transport.Write(data); writeErr != nil {
		m.metrics.sendFailure()
		m.log.V(1).Info("Failed to write frame", "Envelope", f.Envelope.String(), "Error", writeErr.Error())
		return fmt.Errorf("failed to write frame (%s): %w", f.Envelope.String(), writeErr)
	}

	m.metrics.frameSent()
	m.log.V(1).Info("Frame sent", "Channel", f.ChannelID, "MessageID", f.MessageID, "IsReply", f.IsReply, "Size", len(f.Payload))
	return nil
}

func (m *Messenger) checkInitialized() error {
	if m == nil || m.teardown == nil {
		return ErrNotInitialized
	}
	return nil
}

func (m *Messenger) checkOpen() error {
	if err := m.checkInitialized(); err != nil {
		return err
	}
	if m.State() != MessengerStateOpen {
		return ErrMessengerClosed
	}
	return nil
}

func (m *Messenger) checkSendable(channelID ChannelID) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if !m.channels.Has(channelID) {
		if m.State() != MessengerStateOpen {
			return ErrMessengerClosed
		}
		return fmt.Errorf("channel %d: %w", channelID, ErrUnknownChannel)
	}
	return nil
}

// terminate runs the shutdown sequence exactly once; concurrent callers wait until it has finished.
// It never waits for the dispatch loop, so it is safe to call from the loop itself.
func (m *Messenger) terminate(cause error) {
	m.teardown.Run(func() error {
		m.state.Store(int32(MessengerStateTerminating))
		if errors.Is(cause, ErrMessengerClosed) {
			m.cause = cause
		} else {
			m.cause = errors.Join(ErrMessengerClosed, cause)
		}
		m.log.V(1).Info("Messenger shutting down", "Reason", m.cause.Error())

		// Closing the transport unblocks the dispatch loop if it is waiting for data.
		closeErr := m.transport.Close()
		if closeErr != nil {
			m.log.V(1).Info("Error closing transport", "Error", closeErr.Error())
		}

		m.replies.CancelAll(m.cause)
		m.channels.Close(m.cause)
		return closeErr
	})
}
