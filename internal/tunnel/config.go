// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package tunnel

import (
	"time"

	"github.com/go-logr/logr"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	defaultCloseTimeout = 5 * time.Second
)

// TunnelConfig holds configuration for both ends of a DAP tunnel.
type TunnelConfig struct {
	// AllowedTargets lists the debug adapter addresses the server may connect to.
	// If empty, any target is allowed. Only used on the server side.
	AllowedTargets []string

	// DialTimeout limits how long the server keeps retrying to connect to a debug adapter.
	// If zero, DefaultDialTimeout is used.
	DialTimeout time.Duration

	// Logger for tunnel operations.
	// If zero, logging is discarded.
	Logger logr.Logger
}

func (c TunnelConfig) logger() logr.Logger {
	if c.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return c.Logger
}

func (c TunnelConfig) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout
}
