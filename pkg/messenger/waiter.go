/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"time"
)

// frameWaiter is a single-slot mailbox for one blocked caller.
// Exactly one of deliver() or cancel() is called, always under the lock of the owning structure.
type frameWaiter struct {
	delivery chan *Frame
	err      error
}

func newFrameWaiter() *frameWaiter {
	return &frameWaiter{
		delivery: make(chan *Frame, 1),
	}
}

func (w *frameWaiter) deliver(f *Frame) {
	w.delivery <- f
	close(w.delivery)
}

func (w *frameWaiter) cancel(err error) {
	w.err = err // Must be set before the channel is closed; the close publishes it to the reader.
	close(w.delivery)
}

// collect must only be called after the waiter has been delivered to or cancelled.
func (w *frameWaiter) collect() (*Frame, error) {
	f, ok := <-w.delivery
	if !ok {
		return nil, w.err
	}
	return f, nil
}

// expiredTimeout is ready immediately, for negative timeouts.
var expiredTimeout = func() chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}()

// newTimeoutChannel returns a channel that fires after the timeout elapses,
// a nil channel (never fires) for NoTimeout, or a ready channel for a negative timeout.
func newTimeoutChannel(timeout time.Duration) (<-chan time.Time, func()) {
	switch {
	case timeout == NoTimeout:
		return nil, func() {}
	case timeout < 0:
		return expiredTimeout, func() {}
	}
	timer := time.NewTimer(timeout)
	return timer.C, func() { timer.Stop() }
}
