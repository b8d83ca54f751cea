// Package commands defines the mailqd CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mailqd",
		Short: "Asynchronous email delivery queue",
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")

	rootCmd.AddCommand(
		newServeCommand(),
		newWorkCommand(),
		newMigrateCommand(),
		newStatusCommand(),
	)

	return rootCmd
}
