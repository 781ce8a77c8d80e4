/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package messenger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dbgmux/pkg/testutil"
)

func TestReplyTableFulfill(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	rt := newReplyTable(nil)
	w, err := rt.Register(5)
	require.NoError(t, err)

	assert.False(t, rt.Fulfill(&Frame{Envelope: Envelope{MessageID: 6}, IsReply: true}), "reply for another message must not match")
	assert.True(t, rt.Fulfill(&Frame{Envelope: Envelope{MessageID: 5}, IsReply: true, Payload: []byte("r")}))
	assert.Equal(t, 0, rt.Len())

	f, awaitErr := rt.Await(ctx, 5, w, NoTimeout)
	require.NoError(t, awaitErr)
	assert.Equal(t, []byte("r"), f.Payload)

	assert.False(t, rt.Fulfill(&Frame{Envelope: Envelope{MessageID: 5}, IsReply: true}), "a second reply must be dropped")
}

func TestReplyTableTimeoutRemovesWaiter(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	rt := newReplyTable(nil)
	w, err := rt.Register(1)
	require.NoError(t, err)

	_, awaitErr := rt.Await(ctx, 1, w, 50*time.Millisecond)
	require.Error(t, awaitErr)
	assert.True(t, IsTimeout(awaitErr))
	assert.Equal(t, 0, rt.Len())
	assert.False(t, rt.Fulfill(&Frame{Envelope: Envelope{MessageID: 1}, IsReply: true}))
}

func TestReplyTableNegativeTimeoutExpiresImmediately(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	rt := newReplyTable(nil)
	w, err := rt.Register(1)
	require.NoError(t, err)

	_, awaitErr := rt.Await(ctx, 1, w, -time.Millisecond)
	require.ErrorIs(t, awaitErr, ErrDeadlineExceeded)
	assert.Equal(t, 0, rt.Len())
}

func TestReplyTableContextCancellation(t *testing.T) {
	t.Parallel()

	rt := newReplyTable(nil)
	w, err := rt.Register(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, awaitErr := rt.Await(ctx, 1, w, NoTimeout)
	assert.ErrorIs(t, awaitErr, context.Canceled)
	assert.Equal(t, 0, rt.Len())
}

func TestReplyTableDeliveredReplyWinsOverTimeout(t *testing.T) {
	t.Parallel()

	rt := newReplyTable(nil)
	w, err := rt.Register(1)
	require.NoError(t, err)
	require.True(t, rt.Fulfill(&Frame{Envelope: Envelope{MessageID: 1}, IsReply: true, Payload: []byte("late but present")}))

	// The context is already done, but the reply is already in the mailbox; either outcome of the select
	// must return the reply rather than lose it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, awaitErr := rt.Await(ctx, 1, w, NoTimeout)
	require.NoError(t, awaitErr)
	assert.Equal(t, []byte("late but present"), f.Payload)
}

func TestReplyTableCancelAll(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	rt := newReplyTable(nil)
	const waiters = 10

	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 1; i <= waiters; i++ {
		w, err := rt.Register(MessageID(i))
		require.NoError(t, err)
		wg.Add(1)
		go func(id MessageID) {
			defer wg.Done()
			_, awaitErr := rt.Await(ctx, id, w, NoTimeout)
			errs <- awaitErr
		}(MessageID(i))
	}

	rt.CancelAll(ErrMessengerClosed)
	wg.Wait()
	close(errs)

	for awaitErr := range errs {
		assert.ErrorIs(t, awaitErr, ErrMessengerClosed)
		assert.True(t, IsCancellation(awaitErr))
	}

	_, registerErr := rt.Register(100)
	assert.ErrorIs(t, registerErr, ErrMessengerClosed)
}
