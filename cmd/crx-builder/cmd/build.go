package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oshokin/crx-builder/internal/config"
	"github.com/oshokin/crx-builder/internal/service/builder"
)

func newBuildCommand() *cobra.Command {
	var (
		opts    builder.Options
		variant int
	)

	command := &cobra.Command{
		Use:   "build [unit...]",
		Short: "Package stale extensions under the root",
		Long: "Package every extension directory under the root whose sources changed since its last build. " +
			"Each package is signed with the unit's key.pem, created on first build, so its identifier never changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath
			opts.Units = args
			opts.Variant = config.Variant(variant)

			return builder.Run(cmd.Context(), &opts)
		},
	}

	flags := command.Flags()
	flags.StringVarP(&opts.Root, "root", "r", "", "directory containing extension units")
	flags.StringVar(&opts.CodebaseURL, "codebase-url", "", "base URL the root is published under")
	flags.IntVar(&variant, "variant", 0, "1 to build packages only, 2 to also regenerate the index page")
	flags.StringVar(&opts.Packer, "packer", "", "packaging tool: builtin or chrome")
	flags.StringVar(&opts.Resizer, "resizer", "", "icon resizer: builtin or convert")
	flags.BoolVar(&opts.Strict, "strict", false, "exit with an error when any unit fails")

	return command
}
