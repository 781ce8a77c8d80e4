/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/dbgmux/internal/remote"
	"github.com/microsoft/dbgmux/internal/tunnel"
	"github.com/microsoft/dbgmux/pkg/messenger"
	"github.com/microsoft/dbgmux/pkg/resiliency"
	"github.com/microsoft/dbgmux/pkg/transport"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIDEListen      = "127.0.0.1:0"
)

type connectFlags struct {
	serverAddress  string
	useWebSocket   bool
	ideListen      string
	adapterAddress string
	connectTimeout time.Duration
	requestTimeout time.Duration
	name           string
	monitor        monitorFlags
}

// clientStatus is written to stdout once the client is ready for IDE connections.
type clientStatus struct {
	IDEAddress string `json:"ideAddress"`
	Server     string `json:"server"`
	ServerName string `json:"serverName,omitempty"`
	Adapter    string `json:"adapter"`
}

func NewConnectCommand(log logr.Logger) *cobra.Command {
	flags := &connectFlags{}

	connectCmd := &cobra.Command{
		Use:   "connect --server address [--websocket] [--ide-listen address] --adapter address",
		Short: "Runs the local side of a debug tunnel",
		Long: `Runs the local side of a debug tunnel.

		The client connects to a dbgmux server and accepts IDE connections on the --ide-listen address.
		Every IDE connection becomes a debug session with the debug adapter at the --adapter address, as seen from the server.
		`,
		RunE: runConnect(log, flags),
		Args: cobra.NoArgs,
	}

	connectCmd.Flags().StringVar(&flags.serverAddress, "server", "", "The dbgmux server to connect to: a TCP address, or a WebSocket URL if --websocket is specified.")
	connectCmd.Flags().BoolVar(&flags.useWebSocket, "websocket", false, "Connect to the server over WebSocket.")
	connectCmd.Flags().StringVar(&flags.ideListen, "ide-listen", defaultIDEListen, "The TCP address to accept IDE connections on. A port of 0 picks a random port.")
	connectCmd.Flags().StringVar(&flags.adapterAddress, "adapter", "", "The address of the debug adapter, as reachable from the server.")
	connectCmd.Flags().DurationVar(&flags.connectTimeout, "connect-timeout", defaultConnectTimeout, "How long to keep trying to connect to the server.")
	connectCmd.Flags().DurationVar(&flags.requestTimeout, "request-timeout", remote.DefaultRequestTimeout, "How long to wait for the server to answer a management request.")
	connectCmd.Flags().StringVar(&flags.name, "name", "", "The client name reported to the server. Defaults to the host name.")
	flags.monitor.addTo(connectCmd)

	_ = connectCmd.MarkFlagRequired("server")
	_ = connectCmd.MarkFlagRequired("adapter")

	return connectCmd
}

func (f *connectFlags) validate() error {
	if f.serverAddress == "" {
		return fmt.Errorf("server address must not be empty")
	}
	if f.adapterAddress == "" {
		return fmt.Errorf("debug adapter address must not be empty")
	}
	if f.ideListen == "" {
		return fmt.Errorf("IDE listen address must not be empty")
	}
	if f.connectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, not %s", f.connectTimeout)
	}
	if f.requestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, not %s", f.requestTimeout)
	}
	return nil
}

func runConnect(log logr.Logger, flags *connectFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log = log.WithName("connect")

		if configErr := flags.validate(); configErr != nil {
			log.Error(configErr, "Invocation parameters are invalid")
			return configErr
		}

		clientCtx, cancelClientCtx, monitorErr := flags.monitor.monitor(cmd.Context(), log)
		if monitorErr != nil {
			log.Error(monitorErr, "Could not start monitoring the process")
			return monitorErr
		}
		defer cancelClientCtx()

		t, dialErr := flags.dial(clientCtx)
		if dialErr != nil {
			log.Error(dialErr, "Failed to connect to the server", "Server", flags.serverAddress)
			return dialErr
		}

		m := messenger.NewMessenger(clientCtx, t, messenger.MessengerConfig{
			Logger: log.WithName("messenger"),
		})
		defer func() { _ = m.Close() }()

		// Stop serving IDE connections when the server goes away.
		tunnelCtx, cancelTunnelCtx := context.WithCancel(clientCtx)
		defer cancelTunnelCtx()
		go func() {
			select {
			case <-m.Done():
				cancelTunnelCtx()
			case <-tunnelCtx.Done():
			}
		}()

		name := flags.name
		if name == "" {
			name, _ = os.Hostname()
		}

		client := remote.NewManagementClient(tunnelCtx, m, remote.ClientConfig{
			Name:           name,
			RequestTimeout: flags.requestTimeout,
			OnChannelClosed: func(evt remote.ChannelClosedEvent) {
				log.V(1).Info("Server ended debug session", "Channel", evt.ChannelID, "Reason", evt.Reason)
			},
			Logger: log,
		})

		if helloErr := client.Hello(tunnelCtx); helloErr != nil {
			log.Error(helloErr, "Server handshake failed", "Server", flags.serverAddress)
			return helloErr
		}

		lc := net.ListenConfig{}
		ideListener, listenErr := lc.Listen(tunnelCtx, "tcp", flags.ideListen)
		if listenErr != nil {
			log.Error(listenErr, "Failed to create TCP listener for IDE connections", "Address", flags.ideListen)
			return listenErr
		}

		status := clientStatus{
			IDEAddress: ideListener.Addr().String(),
			Server:     flags.serverAddress,
			ServerName: client.ServerName(),
			Adapter:    flags.adapterAddress,
		}
		if statusErr := writeStatus(cmd.OutOrStdout(), status); statusErr != nil {
			_ = ideListener.Close()
			log.Error(statusErr, "Failed to write client status")
			return statusErr
		}

		tun := tunnel.NewTunnel(client, tunnel.TunnelConfig{Logger: log.WithName("tunnel")})
		serveErr := tun.ServeIDE(tunnelCtx, ideListener, flags.adapterAddress)
		if serveErr != nil {
			log.Error(serveErr, "Failed to serve IDE connections")
			return serveErr
		}

		select {
		case <-m.Done():
			if clientCtx.Err() == nil {
				lostErr := fmt.Errorf("lost connection to the server: %w", m.Err())
				log.Error(lostErr, "Client is shutting down...")
				return lostErr
			}
		default:
		}

		log.Info("Client is shutting down...")
		return nil
	}
}

func (f *connectFlags) dial(ctx context.Context) (transport.Transport, error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, f.connectTimeout)
	defer cancelDial()

	if f.useWebSocket {
		return resiliency.RetryGet(dialCtx, resiliency.DefaultConnectBackoff(), func() (transport.Transport, error) {
			return transport.DialWebSocket(dialCtx, f.serverAddress, nil)
		})
	}

	return transport.DialTCPWithRetry(dialCtx, f.serverAddress, resiliency.DefaultConnectBackoff())
}
