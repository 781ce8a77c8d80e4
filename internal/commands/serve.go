/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/dbgmux/internal/remote"
	"github.com/microsoft/dbgmux/internal/tunnel"
	"github.com/microsoft/dbgmux/pkg/messenger"
	"github.com/microsoft/dbgmux/pkg/transport"
)

const (
	webSocketPath       = "/dbgmux"
	serverShutdownDelay = 5 * time.Second
)

type serveFlags struct {
	listenAddress    string
	useStdio         bool
	webSocketAddress string
	allowedTargets   []string
	dialTimeout      time.Duration
	name             string
	monitor          monitorFlags
}

// serverStatus is written to stdout once the server is accepting connections.
type serverStatus struct {
	Address  string `json:"address"`
	Protocol string `json:"protocol"`
	URL      string `json:"url,omitempty"`
}

func NewServeCommand(log logr.Logger) *cobra.Command {
	flags := &serveFlags{}

	serveCmd := &cobra.Command{
		Use:   "serve [--listen address | --stdio | --websocket address] [--allow-target address...]",
		Short: "Runs the remote side of debug tunnels",
		Long: `Runs the remote side of debug tunnels.

		The server accepts dbgmux clients and, for every debug session a client opens, connects to the requested debug adapter and relays Debug Adapter Protocol messages between the adapter and the client.
		Exactly one of --listen, --stdio or --websocket must be specified.
		`,
		RunE: runServe(log, flags),
		Args: cobra.NoArgs,
	}

	serveCmd.Flags().StringVar(&flags.listenAddress, "listen", "", "The TCP address to accept clients on, e.g. localhost:4711. A port of 0 picks a random port.")
	serveCmd.Flags().BoolVar(&flags.useStdio, "stdio", false, "Serve a single client over standard input and output.")
	serveCmd.Flags().StringVar(&flags.webSocketAddress, "websocket", "", "The address to accept WebSocket clients on. Clients connect to ws://<address>"+webSocketPath+".")
	serveCmd.Flags().StringSliceVar(&flags.allowedTargets, "allow-target", nil, "A debug adapter address clients may connect to. Can be repeated. If not specified, any target is allowed.")
	serveCmd.Flags().DurationVar(&flags.dialTimeout, "dial-timeout", tunnel.DefaultDialTimeout, "How long to keep trying to connect to a debug adapter.")
	serveCmd.Flags().StringVar(&flags.name, "name", "", "The server name reported to clients. Defaults to the host name.")
	flags.monitor.addTo(serveCmd)

	return serveCmd
}

func (f *serveFlags) validate() error {
	modes := 0
	if f.listenAddress != "" {
		modes++
	}
	if f.useStdio {
		modes++
	}
	if f.webSocketAddress != "" {
		modes++
	}

	if modes != 1 {
		return fmt.Errorf("exactly one of --listen, --stdio or --websocket must be specified")
	}
	if f.dialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, not %s", f.dialTimeout)
	}
	return nil
}

func runServe(log logr.Logger, flags *serveFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log = log.WithName("serve")

		if configErr := flags.validate(); configErr != nil {
			log.Error(configErr, "Invocation parameters are invalid")
			return configErr
		}

		serveCtx, cancelServeCtx, monitorErr := flags.monitor.monitor(cmd.Context(), log)
		if monitorErr != nil {
			log.Error(monitorErr, "Could not start monitoring the process")
			return monitorErr
		}
		defer cancelServeCtx()

		name := flags.name
		if name == "" {
			name, _ = os.Hostname()
		}

		host := &serverHost{
			name: name,
			handler: tunnel.NewAdapterSessionHandler(tunnel.TunnelConfig{
				AllowedTargets: flags.allowedTargets,
				DialTimeout:    flags.dialTimeout,
				Logger:         log.WithName("tunnel"),
			}),
			log: log,
		}
		defer host.wg.Wait()

		switch {
		case flags.useStdio:
			// The process owns stdout, so the transport leaves it open.
			t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.WithoutClosingOutput())
			return host.serveTransport(serveCtx, t, "stdio")

		case flags.listenAddress != "":
			return host.serveTCP(serveCtx, cmd.OutOrStdout(), flags.listenAddress)

		default:
			return host.serveWebSocket(serveCtx, cmd.OutOrStdout(), flags.webSocketAddress)
		}
	}
}

// serverHost runs one management server per connected client.
type serverHost struct {
	name    string
	handler remote.SessionHandler
	log     logr.Logger

	// wg tracks clients being served
	wg sync.WaitGroup
}

func (h *serverHost) serveTransport(ctx context.Context, t transport.Transport, peer string) error {
	log := h.log.WithValues("Peer", peer)

	m := messenger.NewMessenger(ctx, t, messenger.MessengerConfig{
		Logger: log.WithName("messenger"),
	})

	server := remote.NewManagementServer(m, remote.ServerConfig{
		Name:    h.name,
		Handler: h.handler,
		Logger:  log,
	})

	log.V(1).Info("Serving client")
	serveErr := server.Serve(ctx)
	closeErr := m.Close()
	if serveErr != nil {
		log.Error(serveErr, "Management server failed")
		return serveErr
	}

	if closeErr != nil && !messenger.IsCancellation(closeErr) {
		log.V(1).Info("Messenger did not close cleanly", "Error", closeErr.Error())
	}
	log.V(1).Info("Client disconnected")
	return nil
}

func (h *serverHost) serveClientAsync(ctx context.Context, t transport.Transport, peer string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		// Errors are logged by serveTransport and only end this client's connection.
		_ = h.serveTransport(ctx, t, peer)
	}()
}

func (h *serverHost) serveTCP(ctx context.Context, statusOut io.Writer, address string) error {
	lc := net.ListenConfig{}
	listener, listenErr := lc.Listen(ctx, "tcp", address)
	if listenErr != nil {
		h.log.Error(listenErr, "Failed to create TCP listener", "Address", address)
		return listenErr
	}

	stopClosingListener := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer func() {
		stopClosingListener()
		_ = listener.Close()
	}()

	if statusErr := writeStatus(statusOut, serverStatus{Address: listener.Addr().String(), Protocol: "tcp"}); statusErr != nil {
		h.log.Error(statusErr, "Failed to write server status")
		return statusErr
	}
	h.log.Info("Server is listening", "Address", listener.Addr().String())

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				h.log.Info("Server is shutting down...")
				return nil
			}
			h.log.Error(acceptErr, "Failed to accept client connection")
			return acceptErr
		}

		h.serveClientAsync(ctx, transport.NewConnTransport(conn), conn.RemoteAddr().String())
	}
}

func (h *serverHost) serveWebSocket(ctx context.Context, statusOut io.Writer, address string) error {
	lc := net.ListenConfig{}
	listener, listenErr := lc.Listen(ctx, "tcp", address)
	if listenErr != nil {
		h.log.Error(listenErr, "Failed to create WebSocket listener", "Address", address)
		return listenErr
	}

	mux := http.NewServeMux()
	mux.HandleFunc(webSocketPath, func(w http.ResponseWriter, r *http.Request) {
		t, upgradeErr := transport.UpgradeWebSocket(w, r)
		if upgradeErr != nil {
			// The upgrader has already replied with an HTTP error.
			h.log.V(1).Info("WebSocket upgrade failed", "Peer", r.RemoteAddr, "Error", upgradeErr.Error())
			return
		}
		h.serveClientAsync(ctx, t, r.RemoteAddr)
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: serverShutdownDelay,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.Serve(listener)
	}()

	status := serverStatus{
		Address:  listener.Addr().String(),
		Protocol: "websocket",
		URL:      "ws://" + listener.Addr().String() + webSocketPath,
	}
	if statusErr := writeStatus(statusOut, status); statusErr != nil {
		h.log.Error(statusErr, "Failed to write server status")
		_ = server.Close()
		return statusErr
	}
	h.log.Info("Server is listening", "URL", status.URL)

	select {

	case <-ctx.Done():
		h.log.Info("Server is shutting down...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownDelay)
		defer cancelShutdown()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			h.log.Error(shutdownErr, "Graceful shutdown timed out")
			_ = server.Close()
		}
		return nil

	case serveErr := <-serverErrChan:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		h.log.Error(serveErr, "WebSocket server failed")
		return serveErr

	}
}

func writeStatus(out io.Writer, status any) error {
	statusJson, marshalErr := json.Marshal(status)
	if marshalErr != nil {
		return marshalErr // Should never happen
	}
	_, writeErr := out.Write(WithNewline(statusJson))
	return writeErr
}
