package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/crx-builder/internal/service/preview"
)

func newServeCommand() *cobra.Command {
	var opts preview.Options

	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve the root over HTTP for local update testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = configPath

			return preview.Run(cmd.Context(), &opts)
		},
	}

	command.Flags().StringVarP(&opts.Root, "root", "r", "", "directory to serve")
	command.Flags().StringVarP(&opts.ListenAddress, "listen", "l", "", "listen address")

	return command
}
