// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgmux/internal/remote"
	"github.com/microsoft/dbgmux/pkg/transport"
)

// Tunnel is the client side of a DAP tunnel: it accepts connections from IDEs
// and carries each of them to a debug adapter session on the server.
type Tunnel struct {
	client *remote.ManagementClient
	log    logr.Logger

	// wg tracks IDE connections being served
	wg sync.WaitGroup
}

func NewTunnel(client *remote.ManagementClient, config TunnelConfig) *Tunnel {
	return &Tunnel{
		client: client,
		log:    config.logger(),
	}
}

// ServeIDE accepts IDE connections on the listener until the context is done or accepting fails.
// Each connection gets its own channel and a debug adapter session with the target on the server.
// The listener is closed and all connections are finished before ServeIDE returns.
func (t *Tunnel) ServeIDE(ctx context.Context, listener net.Listener, target string) error {
	stopClosingListener := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer func() {
		stopClosingListener()
		_ = listener.Close()
		t.wg.Wait()
	}()

	t.log.Info("Waiting for IDE connections", "Address", listener.Addr().String(), "Target", target)

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept IDE connection: %w", acceptErr)
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.serveConnection(ctx, conn, target)
		}()
	}
}

func (t *Tunnel) serveConnection(ctx context.Context, conn net.Conn, target string) {
	log := t.log.WithValues("IDE", conn.RemoteAddr().String())

	channel, openErr := t.client.OpenChannel(ctx, target)
	if openErr != nil {
		log.Error(openErr, "Could not open debug session")
		_ = conn.Close()
		return
	}

	log = log.WithValues("Channel", channel.ID())
	log.Info("Debug session started")

	pumpErr := pump(ctx, newDAPStream(transport.NewConnTransport(conn)), channel, pumpConfig{log: log})
	if pumpErr != nil {
		log.Info("Debug session ended with error", "Error", pumpErr.Error())
	} else {
		log.Info("Debug session ended")
	}

	if !t.client.Messenger().HasChannel(channel.ID()) {
		return // The server ended the session.
	}

	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), defaultCloseTimeout)
	defer cancelClose()
	if closeErr := t.client.CloseChannel(closeCtx, channel.ID()); closeErr != nil {
		log.V(1).Info("Could not close channel", "Error", closeErr.Error())
	}
}
