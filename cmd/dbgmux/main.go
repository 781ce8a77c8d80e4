/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"os"

	kubeapiserver "k8s.io/apiserver/pkg/server"

	"github.com/microsoft/dbgmux/internal/commands"
	"github.com/microsoft/dbgmux/internal/telemetry"
	"github.com/microsoft/dbgmux/pkg/logger"
	"github.com/microsoft/dbgmux/pkg/resiliency"
)

const (
	errCommandError = 1
	errPanic        = 3
)

func main() {
	log := logger.New("dbgmux").WithName("dbgmux")
	defer func() {
		panicErr := resiliency.MakePanicError(recover(), log.Logger)
		if panicErr != nil {
			_, _ = os.Stderr.Write(commands.WithNewline([]byte(panicErr.Error())))
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx := kubeapiserver.SetupSignalContext()

	telemetrySystem := telemetry.GetTelemetrySystem()

	root := commands.NewRootCommand(log)

	err := root.ExecuteContext(ctx)
	_ = telemetrySystem.Shutdown(ctx)
	if err != nil {
		commands.ErrorExit(log, err, errCommandError)
	} else {
		log.Flush()
	}
}
