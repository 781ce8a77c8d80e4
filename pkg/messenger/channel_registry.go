/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/microsoft/dbgmux/pkg/container"
)

type queuedFrame struct {
	frame *Frame
	seq   uint64 // Arrival order across all channels.
}

type channel struct {
	id      ChannelID
	queue   *container.RingBuffer[queuedFrame]
	waiters *container.RingBuffer[*frameWaiter]
}

func newChannel(id ChannelID) *channel {
	return &channel{
		id:      id,
		queue:   container.NewRingBuffer[queuedFrame](),
		waiters: container.NewRingBuffer[*frameWaiter](),
	}
}

// close wakes all receivers blocked on the channel and discards undelivered frames.
// Returns the number of discarded frames.
func (c *channel) close(err error) int {
	for {
		w, ok := c.waiters.Pop()
		if !ok {
			break
		}
		w.cancel(err)
	}
	discarded := c.queue.Len()
	c.queue.Clear()
	return discarded
}

// channelRegistry owns the live channels and their pending-message queues.
// All state is guarded by a single lock.
type channelRegistry struct {
	lock          sync.Mutex
	channels      map[ChannelID]*channel
	anyWaiters    *container.RingBuffer[*frameWaiter]
	nextChannelID ChannelID
	nextSeq       uint64
	closed        bool
	closeErr      error
	metrics       *messengerMetrics
}

func newChannelRegistry(metrics *messengerMetrics) *channelRegistry {
	cr := &channelRegistry{
		channels:      make(map[ChannelID]*channel),
		anyWaiters:    container.NewRingBuffer[*frameWaiter](),
		nextChannelID: DefaultChannel + 1,
		metrics:       metrics,
	}
	cr.channels[DefaultChannel] = newChannel(DefaultChannel)
	cr.metrics.liveChannelsChanged(1)
	return cr
}

// NewChannel allocates a fresh channel id and registers the channel.
func (cr *channelRegistry) NewChannel() (ChannelID, error) {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.closed {
		return 0, cr.closeErr
	}

	// Ids added by the peer may collide with the counter; skip over them.
	for {
		id := cr.nextChannelID
		cr.nextChannelID++
		if cr.nextChannelID == DefaultChannel {
			cr.nextChannelID++
		}
		if _, inUse := cr.channels[id]; !inUse {
			cr.channels[id] = newChannel(id)
			cr.metrics.liveChannelsChanged(1)
			return id, nil
		}
	}
}

// AddChannel registers a channel with an id chosen elsewhere (typically by the peer).
func (cr *channelRegistry) AddChannel(id ChannelID) error {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.closed {
		return cr.closeErr
	}
	if _, found := cr.channels[id]; found {
		return fmt.Errorf("channel %d: %w", id, ErrDuplicateChannel)
	}

	cr.channels[id] = newChannel(id)
	cr.metrics.liveChannelsChanged(1)
	return nil
}

// DeleteChannel removes the channel, waking its receivers with ErrChannelClosed.
func (cr *channelRegistry) DeleteChannel(id ChannelID) error {
	if id == DefaultChannel {
		return ErrDefaultChannel
	}

	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.closed {
		return cr.closeErr
	}
	c, found := cr.channels[id]
	if !found {
		return fmt.Errorf("channel %d: %w", id, ErrUnknownChannel)
	}

	delete(cr.channels, id)
	discarded := c.close(fmt.Errorf("channel %d: %w", id, ErrChannelClosed))
	cr.metrics.liveChannelsChanged(-1)
	cr.metrics.framesDroppedBy(discarded)
	return nil
}

func (cr *channelRegistry) Has(id ChannelID) bool {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	_, found := cr.channels[id]
	return found
}

// IDs returns the ids of all live channels in ascending order.
func (cr *channelRegistry) IDs() []ChannelID {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	ids := make([]ChannelID, 0, len(cr.channels))
	for id := range cr.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Deliver routes a non-reply frame to its channel: to the longest-waiting receiver on that channel,
// then to the longest-waiting any-channel receiver, and otherwise into the channel queue.
// Returns false if the channel does not exist (the frame should be dropped).
func (cr *channelRegistry) Deliver(f *Frame) bool {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.closed {
		return false
	}
	c, found := cr.channels[f.ChannelID]
	if !found {
		return false
	}

	if w, ok := c.waiters.Pop(); ok {
		w.deliver(f)
		return true
	}
	if w, ok := cr.anyWaiters.Pop(); ok {
		w.deliver(f)
		return true
	}

	c.queue.Push(queuedFrame{frame: f, seq: cr.nextSeq})
	cr.nextSeq++
	return true
}

// Receive returns the oldest frame queued on the channel, blocking until one arrives if necessary.
func (cr *channelRegistry) Receive(ctx context.Context, id ChannelID, timeout time.Duration) (*Frame, error) {
	cr.lock.Lock()

	if cr.closed {
		cr.lock.Unlock()
		return nil, cr.closeErr
	}
	c, found := cr.channels[id]
	if !found {
		cr.lock.Unlock()
		return nil, fmt.Errorf("channel %d: %w", id, ErrUnknownChannel)
	}
	if qf, ok := c.queue.Pop(); ok {
		cr.lock.Unlock()
		return qf.frame, nil
	}

	w := newFrameWaiter()
	c.waiters.Push(w)
	cr.lock.Unlock()

	return cr.await(ctx, w, c.waiters, timeout, func() error {
		return fmt.Errorf("no message on channel %d within %s: %w", id, timeout, ErrDeadlineExceeded)
	})
}

// ReceiveAny returns the oldest queued frame across all channels, blocking until one arrives if necessary.
func (cr *channelRegistry) ReceiveAny(ctx context.Context, timeout time.Duration) (*Frame, error) {
	cr.lock.Lock()

	if cr.closed {
		cr.lock.Unlock()
		return nil, cr.closeErr
	}

	var oldest *channel
	for _, c := range cr.channels {
		head, ok := c.queue.Peek()
		if !ok {
			continue
		}
		if oldest == nil {
			oldest = c
			continue
		}
		if oldestHead, _ := oldest.queue.Peek(); head.seq < oldestHead.seq {
			oldest = c
		}
	}
	if oldest != nil {
		qf, _ := oldest.queue.Pop()
		cr.lock.Unlock()
		return qf.frame, nil
	}

	w := newFrameWaiter()
	cr.anyWaiters.Push(w)
	cr.lock.Unlock()

	return cr.await(ctx, w, cr.anyWaiters, timeout, func() error {
		return fmt.Errorf("no message on any channel within %s: %w", timeout, ErrDeadlineExceeded)
	})
}

func (cr *channelRegistry) await(
	ctx context.Context,
	w *frameWaiter,
	waitQueue *container.RingBuffer[*frameWaiter],
	timeout time.Duration,
	makeTimeoutErr func() error,
) (*Frame, error) {
	timeoutCh, stopTimer := newTimeoutChannel(timeout)
	defer stopTimer()

	var abandonErr error
	select {
	case f, ok := <-w.delivery:
		if !ok {
			return nil, w.err
		}
		return f, nil
	case <-timeoutCh:
		abandonErr = makeTimeoutErr()
	case <-ctx.Done():
		abandonErr = ctx.Err()
	}

	cr.lock.Lock()
	removed := waitQueue.RemoveFunc(func(other *frameWaiter) bool { return other == w }) > 0
	cr.lock.Unlock()

	if removed {
		return nil, abandonErr
	}

	// The frame (or the cancellation) got to the waiter first; do not lose it.
	return w.collect()
}

// Close cancels every receiver and discards all channels, including the default one.
func (cr *channelRegistry) Close(err error) {
	cr.lock.Lock()
	defer cr.lock.Unlock()

	if cr.closed {
		return
	}
	cr.closed = true
	cr.closeErr = err

	discarded := 0
	for _, c := range cr.channels {
		discarded += c.close(err)
	}
	for {
		w, ok := cr.anyWaiters.Pop()
		if !ok {
			break
		}
		w.cancel(err)
	}

	cr.metrics.liveChannelsChanged(-int64(len(cr.channels)))
	cr.metrics.framesDroppedBy(discarded)
	cr.channels = make(map[ChannelID]*channel)
}
