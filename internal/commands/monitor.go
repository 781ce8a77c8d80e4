/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"
	ps "github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	unknownPID             int64 = -1
	defaultMonitorInterval       = 2 * time.Second
)

type monitorFlags struct {
	pid      int64
	interval uint8
}

func (f *monitorFlags) addTo(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&f.pid, "monitor", "m", unknownPID, "If present, tells dbgmux to monitor a given process ID (PID) and gracefully shut down if the monitored process exits for any reason.")
	cmd.Flags().Uint8VarP(&f.interval, "monitor-interval", "i", 0, "If present, specifies the time in seconds between checks for the monitor PID.")
}

func (f *monitorFlags) pollInterval() time.Duration {
	if f.interval == 0 {
		return defaultMonitorInterval
	}
	return time.Second * time.Duration(f.interval)
}

// monitor returns a context that is cancelled when the monitored process exits.
// If no process is monitored, the parent context is returned with a no-op cancel function.
func (f *monitorFlags) monitor(ctx context.Context, log logr.Logger) (context.Context, context.CancelFunc, error) {
	if f.pid == unknownPID {
		return ctx, func() {}, nil
	}

	if f.pid <= 0 || f.pid > math.MaxInt32 {
		return ctx, func() {}, fmt.Errorf("invalid process ID to monitor: %d", f.pid)
	}
	pid := int32(f.pid)

	exists, err := ps.PidExistsWithContext(ctx, pid)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("could not check whether process %d exists: %w", pid, err)
	}
	if !exists {
		return ctx, func() {}, fmt.Errorf("process %d to monitor does not exist", pid)
	}

	monitorCtx, monitorCtxCancel := context.WithCancel(ctx)

	go func() {
		defer monitorCtxCancel()

		pollErr := wait.PollUntilContextCancel(monitorCtx, f.pollInterval(), false, func(pollCtx context.Context) (bool, error) {
			stillExists, existsErr := ps.PidExistsWithContext(pollCtx, pid)
			if existsErr != nil {
				log.V(1).Info("Could not check monitored process", "PID", pid, "Error", existsErr.Error())
				return false, nil
			}
			return !stillExists, nil
		})

		if pollErr == nil {
			log.Info("Monitored process exited, shutting down", "PID", pid)
		} else if !errors.Is(pollErr, context.Canceled) {
			log.Error(pollErr, "Error monitoring process", "PID", pid)
		}
	}()

	return monitorCtx, monitorCtxCancel, nil
}
