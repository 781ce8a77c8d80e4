// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tunnel

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/dbgmux/internal/remote"
	"github.com/microsoft/dbgmux/pkg/messenger"
	"github.com/microsoft/dbgmux/pkg/resiliency"
	"github.com/microsoft/dbgmux/pkg/transport"
)

// AdapterSessionHandler serves each channel opened by a client by connecting it to the debug adapter
// listening at the requested target (a TCP address).
type AdapterSessionHandler struct {
	config TunnelConfig
	log    logr.Logger
}

var _ remote.SessionHandler = (*AdapterSessionHandler)(nil)

func NewAdapterSessionHandler(config TunnelConfig) *AdapterSessionHandler {
	return &AdapterSessionHandler{
		config: config,
		log:    config.logger(),
	}
}

// OpenSession only checks the target against the allow-list. The adapter is dialled when the session runs,
// so a slow or unreachable adapter does not hold up other management requests.
func (h *AdapterSessionHandler) OpenSession(_ context.Context, target string) (remote.Session, error) {
	if len(h.config.AllowedTargets) > 0 && !slices.Contains(h.config.AllowedTargets, target) {
		return nil, fmt.Errorf("%w: %s", remote.ErrTargetNotAllowed, target)
	}

	return &adapterSession{
		target:      target,
		dialTimeout: h.config.dialTimeout(),
		log:         h.log.WithValues("Target", target),
	}, nil
}

type adapterSession struct {
	target      string
	dialTimeout time.Duration
	log         logr.Logger
}

func (s *adapterSession) Run(ctx context.Context, channel *messenger.ChannelMessenger) error {
	log := s.log.WithValues("Channel", channel.ID())

	dialPolicy := resiliency.DefaultConnectBackoff()
	dialPolicy.MaxElapsedTime = s.dialTimeout

	adapterTransport, dialErr := transport.DialTCPWithRetry(ctx, s.target, dialPolicy)
	if dialErr != nil {
		return fmt.Errorf("could not connect to debug adapter at %s: %w", s.target, dialErr)
	}

	log.V(1).Info("Connected to debug adapter, forwarding DAP session")

	return pump(ctx, newDAPStream(adapterTransport), channel, pumpConfig{
		waitForPeer: true,
		log:         log,
	})
}
