// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/microsoft/dbgmux/pkg/messenger"
	"github.com/microsoft/dbgmux/pkg/testutil"
	"github.com/microsoft/dbgmux/pkg/transport"
)

const defaultTestTimeout = 20 * time.Second

func newMessengerPair(ctx context.Context, t *testing.T) (*messenger.Messenger, *messenger.Messenger) {
	left, right := transport.Pipe()
	server := messenger.NewMessenger(ctx, left, messenger.MessengerConfig{Name: "server", Logger: testutil.NewLogForTesting("server")})
	client := messenger.NewMessenger(ctx, right, messenger.MessengerConfig{Name: "client", Logger: testutil.NewLogForTesting("client")})
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func TestCBORCodecRejectsGarbage(t *testing.T) {
	t.Parallel()

	codec := CBORCodec[ManagementRequest]{}
	_, err := codec.Unmarshal([]byte{0xFF, 0x00, 0x13})
	require.Error(t, err)

	encoded, err := codec.Marshal(ManagementRequest{OpenChannel: &OpenChannelRequest{Target: "localhost:4711"}})
	require.NoError(t, err)
	decoded, err := codec.Unmarshal(encoded)
	require.NoError(t, err)
	assert.Equal(t, "openChannel", decoded.Kind())
	assert.Equal(t, "localhost:4711", decoded.OpenChannel.Target)
	assert.Nil(t, decoded.Hello)
}

func TestDAPCodec(t *testing.T) {
	t.Parallel()

	codec := DAPCodec{}
	request := &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "initialize",
		},
		Arguments: dap.InitializeRequestArguments{AdapterID: "go", LinesStartAt1: true},
	}

	payload, err := codec.Marshal(request)
	require.NoError(t, err)

	decoded, err := codec.Unmarshal(payload)
	require.NoError(t, err)
	initialize, isInitialize := decoded.(*dap.InitializeRequest)
	require.True(t, isInitialize, "decoded message has type %T", decoded)
	assert.Equal(t, "go", initialize.Arguments.AdapterID)

	_, err = codec.Unmarshal([]byte(`{"seq":1,"type":"bogus"}`))
	assert.Error(t, err)
}

func TestServerConnectionPostedEventsKeepOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	server, client := newMessengerPair(ctx, t)
	serverConn := NewServerConnection(ctx, server.Channel(messenger.DefaultChannel),
		CBORCodec[string]{}, CBORCodec[string]{}, CBORCodec[int]{}, testutil.NewLogForTesting("server-connection"))
	clientConn := NewClientConnection(client.Channel(messenger.DefaultChannel),
		CBORCodec[string]{}, CBORCodec[string]{}, CBORCodec[int]{})

	const count = 200
	for i := 0; i < count; i++ {
		serverConn.PostEvent(i)
	}

	for i := 0; i < count; i++ {
		evt, err := clientConn.NextEvent(ctx, 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, i, evt)
	}

	// Closing the default channel view closes the messenger; posting afterwards must not block.
	require.NoError(t, serverConn.Close())
	serverConn.PostEvent(count)
}

func TestServerConnectionReportsUndecodableRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	server, client := newMessengerPair(ctx, t)
	serverConn := NewServerConnection(ctx, server.Channel(messenger.DefaultChannel),
		CBORCodec[int]{}, CBORCodec[string]{}, CBORCodec[string]{}, testutil.NewLogForTesting("server-connection"))

	sentID, err := client.SendMessage(messenger.DefaultChannel, []byte("definitely not CBOR \xff"))
	require.NoError(t, err)

	_, id, receiveErr := serverConn.ReceiveRequest(ctx, 5*time.Second)
	require.ErrorIs(t, receiveErr, ErrInvalidRequest)
	assert.Equal(t, sentID, id)
}

// echoHandler opens sessions that echo every message back as a reply.
// A session for the target "oneshot" ends after the first message.
// A session for the target "instant" ends without serving anything.
type echoHandler struct {
	mu      sync.Mutex
	targets []string
}

type echoSession struct {
	oneshot bool
	instant bool
}

func (h *echoHandler) OpenSession(_ context.Context, target string) (Session, error) {
	if target == "forbidden" {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotAllowed, target)
	}
	h.mu.Lock()
	h.targets = append(h.targets, target)
	h.mu.Unlock()
	return &echoSession{oneshot: target == "oneshot", instant: target == "instant"}, nil
}

func (s *echoSession) Run(ctx context.Context, channel *messenger.ChannelMessenger) error {
	if s.instant {
		return errors.New("nothing to do")
	}
	for {
		id, payload, err := channel.ReceiveMessage(ctx, messenger.NoTimeout)
		if err != nil {
			return err
		}
		if replyErr := channel.SendReply(id, payload); replyErr != nil {
			return replyErr
		}
		if s.oneshot {
			return errors.New("oneshot session finished")
		}
	}
}

type managementFixture struct {
	server      *messenger.Messenger
	client      *messenger.Messenger
	mgmtClient  *ManagementClient
	serveResult chan error
	closed      chan ChannelClosedEvent
}

func newManagementFixture(ctx context.Context, t *testing.T) *managementFixture {
	server, client := newMessengerPair(ctx, t)

	f := &managementFixture{
		server:      server,
		client:      client,
		serveResult: make(chan error, 1),
		closed:      make(chan ChannelClosedEvent, 10),
	}

	mgmtServer := NewManagementServer(server, ServerConfig{
		Name:    "test-server",
		Handler: &echoHandler{},
		Logger:  testutil.NewLogForTesting("management-server"),
	})
	go func() {
		f.serveResult <- mgmtServer.Serve(ctx)
	}()

	f.mgmtClient = NewManagementClient(ctx, client, ClientConfig{
		Name:            "test-client",
		RequestTimeout:  5 * time.Second,
		OnChannelClosed: func(evt ChannelClosedEvent) { f.closed <- evt },
		Logger:          testutil.NewLogForTesting("management-client"),
	})

	return f
}

func TestManagementRequiresHelloFirst(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	f := newManagementFixture(ctx, t)

	_, err := f.mgmtClient.ListChannels(ctx)
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), ErrHelloRequired.Error())

	require.NoError(t, f.mgmtClient.Hello(ctx))
	assert.Equal(t, "test-server", f.mgmtClient.ServerName())

	channels, err := f.mgmtClient.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestManagementOpenUseAndCloseChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	f := newManagementFixture(ctx, t)
	require.NoError(t, f.mgmtClient.Hello(ctx))

	channel, err := f.mgmtClient.OpenChannel(ctx, "localhost:4711")
	require.NoError(t, err)
	assert.NotEqual(t, messenger.DefaultChannel, channel.ID())
	assert.True(t, f.server.HasChannel(channel.ID()))
	assert.True(t, f.client.HasChannel(channel.ID()))

	reply, err := channel.SendMessageAndWait(ctx, []byte("echo?"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo?", string(reply))

	channels, err := f.mgmtClient.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, channel.ID(), channels[0].ChannelID)
	assert.Equal(t, "localhost:4711", channels[0].Target)
	assert.NotEmpty(t, channels[0].SessionID)

	require.NoError(t, f.mgmtClient.CloseChannel(ctx, channel.ID()))
	assert.False(t, f.server.HasChannel(channel.ID()))
	assert.False(t, f.client.HasChannel(channel.ID()))

	channels, err = f.mgmtClient.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestManagementSessionEndNotifiesClient(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	f := newManagementFixture(ctx, t)
	require.NoError(t, f.mgmtClient.Hello(ctx))

	channel, err := f.mgmtClient.OpenChannel(ctx, "oneshot")
	require.NoError(t, err)

	_, err = channel.SendMessageAndWait(ctx, []byte("last words"), 5*time.Second)
	require.NoError(t, err)

	select {
	case evt := <-f.closed:
		assert.Equal(t, channel.ID(), evt.ChannelID)
		assert.Contains(t, evt.Reason, "oneshot session finished")
	case <-ctx.Done():
		t.Fatal("client was not told that the session ended")
	}

	pollErr := wait.PollUntilContextTimeout(ctx, 10*time.Millisecond, 5*time.Second, true, func(_ context.Context) (bool, error) {
		return !f.client.HasChannel(channel.ID()) && !f.server.HasChannel(channel.ID()), nil
	})
	require.NoError(t, pollErr)
}

func TestManagementSessionEndingImmediatelyLeavesNoChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	f := newManagementFixture(ctx, t)
	require.NoError(t, f.mgmtClient.Hello(ctx))

	const attempts = 20
	for range attempts {
		channel, err := f.mgmtClient.OpenChannel(ctx, "instant")
		if err != nil {
			require.ErrorIs(t, err, ErrChannelEnded)
		} else {
			assert.NotEqual(t, messenger.DefaultChannel, channel.ID())
		}
	}

	for i := range attempts {
		select {
		case evt := <-f.closed:
			assert.Contains(t, evt.Reason, "nothing to do")
		case <-ctx.Done():
			t.Fatalf("only %d of %d sessions reported their end", i, attempts)
		}
	}

	pollErr := wait.PollUntilContextTimeout(ctx, 10*time.Millisecond, 5*time.Second, true, func(_ context.Context) (bool, error) {
		return len(f.client.ChannelIDs()) == 1 && len(f.server.ChannelIDs()) == 1, nil
	})
	require.NoError(t, pollErr, "client channels: %v, server channels: %v", f.client.ChannelIDs(), f.server.ChannelIDs())

	channels, err := f.mgmtClient.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestManagementRejectedSessionDoesNotLeakChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	f := newManagementFixture(ctx, t)
	require.NoError(t, f.mgmtClient.Hello(ctx))

	_, err := f.mgmtClient.OpenChannel(ctx, "forbidden")
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), ErrTargetNotAllowed.Error())
	assert.Equal(t, []messenger.ChannelID{messenger.DefaultChannel}, f.server.ChannelIDs())
	assert.Equal(t, []messenger.ChannelID{messenger.DefaultChannel}, f.client.ChannelIDs())
}

func TestManagementServeEndsWhenClientDisconnects(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	f := newManagementFixture(ctx, t)
	require.NoError(t, f.mgmtClient.Hello(ctx))
	_, err := f.mgmtClient.OpenChannel(ctx, "localhost:1")
	require.NoError(t, err)

	require.NoError(t, f.client.Close())

	select {
	case serveErr := <-f.serveResult:
		assert.NoError(t, serveErr)
	case <-ctx.Done():
		t.Fatal("Serve did not return after the client disconnected")
	}

	select {
	case <-f.mgmtClient.EventLoopDone():
	case <-ctx.Done():
		t.Fatal("client event loop did not stop")
	}
}

func TestManagementVersionMismatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	server, client := newMessengerPair(ctx, t)
	mgmtServer := NewManagementServer(server, ServerConfig{Name: "test-server", Handler: &echoHandler{}})
	serveResult := make(chan error, 1)
	go func() {
		serveResult <- mgmtServer.Serve(ctx)
	}()

	conn := NewClientConnection(client.Channel(messenger.DefaultChannel),
		CBORCodec[ManagementRequest]{}, CBORCodec[ManagementResponse]{}, CBORCodec[ManagementEvent]{})
	resp, err := conn.SendRequest(ctx, ManagementRequest{Hello: &HelloRequest{ProtocolVersion: ManagementProtocolVersion + 1}}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ManagementProtocolVersion, resp.ProtocolVersion)
	assert.Contains(t, resp.Error, ErrProtocolVersionMismatch.Error())

	select {
	case serveErr := <-serveResult:
		assert.ErrorIs(t, serveErr, ErrProtocolVersionMismatch)
	case <-ctx.Done():
		t.Fatal("Serve did not return after a version mismatch")
	}
}
