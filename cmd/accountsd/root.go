package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the accountsd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "accountsd",
		Short:         "Account registration, sign-in and password recovery service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("accountsd %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
