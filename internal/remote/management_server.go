// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package remote

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/microsoft/dbgmux/pkg/messenger"
	"github.com/microsoft/dbgmux/pkg/resiliency"
)

// SessionHandler creates the sessions served on channels opened by clients.
type SessionHandler interface {
	// OpenSession prepares a session with the target. An error rejects the OpenChannel request.
	OpenSession(ctx context.Context, target string) (Session, error)
}

// Session serves one channel.
type Session interface {
	// Run serves the channel until the session ends, the channel is closed, or the context is done.
	// The session must not send on the channel before it has received the first message from the client.
	Run(ctx context.Context, channel *messenger.ChannelMessenger) error
}

// ServerConfig holds configuration for a ManagementServer.
type ServerConfig struct {
	// Name is reported to clients in the Hello response.
	Name string

	// Handler creates sessions for OpenChannel requests.
	Handler SessionHandler

	// Logger for server operations.
	// If zero, logging is discarded.
	Logger logr.Logger
}

type serverSession struct {
	info   ChannelInfo
	cancel context.CancelFunc
}

// ManagementServer answers management requests received on the default channel of a messenger.
type ManagementServer struct {
	messenger *messenger.Messenger
	config    ServerConfig
	log       logr.Logger

	// sessions tracks running sessions by channel
	sessions map[messenger.ChannelID]*serverSession
	mu       sync.Mutex

	// wg tracks running session goroutines
	wg sync.WaitGroup
}

func NewManagementServer(m *messenger.Messenger, config ServerConfig) *ManagementServer {
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &ManagementServer{
		messenger: m,
		config:    config,
		log:       log,
		sessions:  make(map[messenger.ChannelID]*serverSession),
	}
}

// Serve answers requests until the context is done or the messenger shuts down.
// All sessions are stopped before Serve returns.
// Returns ErrProtocolVersionMismatch if the client speaks a different protocol version.
func (s *ManagementServer) Serve(ctx context.Context) error {
	serveCtx, cancelServe := context.WithCancel(ctx)
	conn := NewServerConnection(
		serveCtx,
		s.messenger.Channel(messenger.DefaultChannel),
		CBORCodec[ManagementRequest]{},
		CBORCodec[ManagementResponse]{},
		CBORCodec[ManagementEvent]{},
		s.log,
	)

	defer func() {
		cancelServe()
		s.wg.Wait()
	}()

	helloReceived := false
	for {
		req, id, receiveErr := conn.ReceiveRequest(serveCtx, messenger.NoTimeout)
		switch {
		case errors.Is(receiveErr, ErrInvalidRequest):
			s.log.Info("Received invalid request", "Error", receiveErr.Error())
			s.respond(conn, id, ManagementResponse{Error: receiveErr.Error()})
			continue
		case receiveErr != nil && (serveCtx.Err() != nil || messenger.IsCancellation(receiveErr)):
			s.log.V(1).Info("Management server stopping", "Reason", receiveErr.Error())
			return nil
		case receiveErr != nil:
			return fmt.Errorf("failed to receive management request: %w", receiveErr)
		}

		s.log.V(1).Info("Management request received", "Kind", req.Kind(), "RequestID", id)

		if !helloReceived && req.Hello == nil {
			s.respond(conn, id, ManagementResponse{Error: ErrHelloRequired.Error()})
			continue
		}

		switch {
		case req.Hello != nil:
			if req.Hello.ProtocolVersion != ManagementProtocolVersion {
				mismatchErr := fmt.Errorf("%w: client speaks version %d, server speaks version %d",
					ErrProtocolVersionMismatch, req.Hello.ProtocolVersion, ManagementProtocolVersion)
				s.respond(conn, id, ManagementResponse{Error: mismatchErr.Error(), ProtocolVersion: ManagementProtocolVersion})
				return mismatchErr
			}
			helloReceived = true
			s.log.Info("Client connected", "Client", req.Hello.ClientName)
			s.respond(conn, id, ManagementResponse{ProtocolVersion: ManagementProtocolVersion, ServerName: s.config.Name})

		case req.OpenChannel != nil:
			resp, responded := s.openChannel(serveCtx, conn, req.OpenChannel.Target)
			s.respond(conn, id, resp)
			responded()

		case req.CloseChannel != nil:
			s.respond(conn, id, s.closeChannel(req.CloseChannel.ChannelID))

		case req.ListChannels != nil:
			s.respond(conn, id, ManagementResponse{Channels: s.listChannels()})

		default:
			s.respond(conn, id, ManagementResponse{Error: fmt.Errorf("%w: no operation specified", ErrInvalidRequest).Error()})
		}
	}
}

func (s *ManagementServer) respond(conn *managementServerConnection, id RequestID, resp ManagementResponse) {
	if sendErr := conn.SendResponse(id, resp); sendErr != nil {
		s.log.V(1).Info("Could not send management response", "RequestID", id, "Error", sendErr.Error())
	}
}

// openChannel starts a session and returns the OpenChannel response.
// The caller must invoke the returned function once the response has been sent;
// until then the session will not report its end to the client.
func (s *ManagementServer) openChannel(
	ctx context.Context,
	conn *managementServerConnection,
	target string,
) (ManagementResponse, func()) {
	noop := func() {}

	if s.config.Handler == nil {
		return ManagementResponse{Error: fmt.Errorf("%w: server does not accept sessions", ErrTargetNotAllowed).Error()}, noop
	}

	channelID, newChannelErr := s.messenger.NewChannel()
	if newChannelErr != nil {
		return ManagementResponse{Error: newChannelErr.Error()}, noop
	}

	session, openErr := s.config.Handler.OpenSession(ctx, target)
	if openErr != nil {
		_ = s.messenger.DeleteChannel(channelID)
		s.log.Info("Could not open session", "Target", target, "Error", openErr.Error())
		return ManagementResponse{Error: openErr.Error()}, noop
	}

	sessionCtx, cancelSession := context.WithCancel(ctx)
	record := &serverSession{
		info: ChannelInfo{
			ChannelID: channelID,
			Target:    target,
			SessionID: uuid.NewString(),
		},
		cancel: cancelSession,
	}

	s.mu.Lock()
	s.sessions[channelID] = record
	s.mu.Unlock()

	log := s.log.WithValues("Channel", channelID, "SessionID", record.info.SessionID)
	log.Info("Session started", "Target", target)

	responded := make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancelSession()

		runErr := resiliency.CallWithPanicRecovery(func() error {
			return session.Run(sessionCtx, s.messenger.Channel(channelID))
		}, log)

		reason := "session ended"
		if runErr != nil && !messenger.IsCancellation(runErr) && sessionCtx.Err() == nil {
			reason = runErr.Error()
			log.Info("Session failed", "Error", reason)
		} else {
			log.Info("Session ended")
		}

		// A ChannelClosed event must not overtake the response that announces the channel.
		<-responded

		// If the client closed the channel, it already knows; otherwise tell it.
		if s.removeSession(channelID) {
			_ = s.messenger.DeleteChannel(channelID)
			conn.PostEvent(ManagementEvent{ChannelClosed: &ChannelClosedEvent{ChannelID: channelID, Reason: reason}})
		}
	}()

	return ManagementResponse{ChannelID: channelID, SessionID: record.info.SessionID}, func() { close(responded) }
}

func (s *ManagementServer) closeChannel(channelID messenger.ChannelID) ManagementResponse {
	if channelID == messenger.DefaultChannel {
		return ManagementResponse{Error: messenger.ErrDefaultChannel.Error()}
	}

	s.mu.Lock()
	record, found := s.sessions[channelID]
	delete(s.sessions, channelID)
	s.mu.Unlock()

	if found {
		record.cancel()
	}

	if deleteErr := s.messenger.DeleteChannel(channelID); deleteErr != nil {
		return ManagementResponse{Error: deleteErr.Error()}
	}
	return ManagementResponse{ChannelID: channelID}
}

// removeSession returns false if the session has already been removed.
func (s *ManagementServer) removeSession(channelID messenger.ChannelID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.sessions[channelID]; !found {
		return false
	}
	delete(s.sessions, channelID)
	return true
}

func (s *ManagementServer) listChannels() []ChannelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels := make([]ChannelInfo, 0, len(s.sessions))
	for _, record := range s.sessions {
		channels = append(channels, record.info)
	}
	slices.SortFunc(channels, func(a, b ChannelInfo) int {
		return cmp.Compare(a.ChannelID, b.ChannelID)
	})
	return channels
}
