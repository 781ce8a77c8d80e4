/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"github.com/spf13/cobra"

	"github.com/microsoft/dbgmux/pkg/logger"
)

func NewRootCommand(logger *logger.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		SilenceErrors: true,
		Use:           "dbgmux",
		Short:         "Carries debug sessions between an IDE and remote debug adapters",
		Long: `Carries debug sessions between an IDE and remote debug adapters.

	All debug sessions share one connection between the client and the server. Every session runs on its own channel multiplexed over that connection.`,
		SilenceUsage:     true,
		PersistentPreRun: LogVersion(logger.Logger, "Starting dbgmux..."),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	logger.AddLevelFlag(rootCmd.PersistentFlags())

	rootCmd.AddCommand(NewVersionCommand(logger.Logger))
	rootCmd.AddCommand(NewServeCommand(logger.Logger))
	rootCmd.AddCommand(NewConnectCommand(logger.Logger))

	return rootCmd
}
