package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oshokin/crx-builder/internal/domain/extension"
	"github.com/oshokin/crx-builder/internal/identity"
	"github.com/oshokin/crx-builder/internal/service/crx"
)

func newIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "id path...",
		Short: "Print extension identifiers of keys, packages or unit directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				id, err := identify(path)
				if err != nil {
					return err
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, path)
			}

			return nil
		},
	}
}

// identify derives the identifier from a unit directory, a .crx package
// or a PEM key.
func identify(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		return identity.FromKeyFile(filepath.Join(path, extension.KeyFilename))
	}

	if !strings.EqualFold(filepath.Ext(path), extension.PackageExtension) {
		return identity.FromKeyFile(path)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	pkg, err := crx.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	return pkg.ID, nil
}
