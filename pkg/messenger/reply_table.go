/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// replyTable tracks callers waiting for a reply, keyed by the id of the message they sent.
type replyTable struct {
	lock     sync.Mutex
	waiters  map[MessageID]*frameWaiter
	closed   bool
	closeErr error
	metrics  *messengerMetrics
}

func newReplyTable(metrics *messengerMetrics) *replyTable {
	return &replyTable{
		waiters: make(map[MessageID]*frameWaiter),
		metrics: metrics,
	}
}

// Register adds a waiter for the reply to the given message.
// Must be called before the message is written to the transport.
func (rt *replyTable) Register(id MessageID) (*frameWaiter, error) {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	if rt.closed {
		return nil, rt.closeErr
	}
	if _, found := rt.waiters[id]; found {
		return nil, fmt.Errorf("a reply to message %d is already awaited", id)
	}

	w := newFrameWaiter()
	rt.waiters[id] = w
	rt.metrics.pendingRepliesChanged(1)
	return w, nil
}

// Remove unregisters the waiter if it is still registered.
// Returns false if the waiter has already been fulfilled or cancelled.
func (rt *replyTable) Remove(id MessageID, w *frameWaiter) bool {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	if current, found := rt.waiters[id]; !found || current != w {
		return false
	}
	delete(rt.waiters, id)
	rt.metrics.pendingRepliesChanged(-1)
	return true
}

// Fulfill hands the reply frame to the waiter registered for its message id.
// Returns false (and the frame should be dropped) if nobody is waiting for it.
func (rt *replyTable) Fulfill(f *Frame) bool {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	w, found := rt.waiters[f.MessageID]
	if !found {
		return false
	}
	delete(rt.waiters, f.MessageID)
	rt.metrics.pendingRepliesChanged(-1)
	w.deliver(f)
	return true
}

// CancelAll wakes every waiter with the given error and rejects any further registrations.
func (rt *replyTable) CancelAll(err error) {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	if rt.closed {
		return
	}
	rt.closed = true
	rt.closeErr = err

	for _, w := range rt.waiters {
		w.cancel(err)
	}
	rt.metrics.pendingRepliesChanged(-int64(len(rt.waiters)))
	rt.waiters = make(map[MessageID]*frameWaiter)
}

// Await blocks until the reply arrives, the timeout elapses, the context is done, or the table is cancelled.
// On timeout or context cancellation the waiter unregisters itself, so a late reply is dropped.
func (rt *replyTable) Await(ctx context.Context, id MessageID, w *frameWaiter, timeout time.Duration) (*Frame, error) {
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
		abandonErr = fmt.Errorf("no reply to message %d within %s: %w", id, timeout, ErrDeadlineExceeded)
	case <-ctx.Done():
		abandonErr = ctx.Err()
	}

	if rt.Remove(id, w) {
		return nil, abandonErr
	}

	// Lost the race with the dispatch loop or with cancellation; the outcome is already in the mailbox.
	return w.collect()
}

func (rt *replyTable) Len() int {
	rt.lock.Lock()
	defer rt.lock.Unlock()
	return len(rt.waiters)
}
