package main

import (
	"github.com/spf13/cobra"
)

func newSeedCmd(a *app) *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load workflow definitions from YAML files",
		Long: `Load roles and workflow definitions from YAML files.

Entries that already exist, matched by name, are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(files) == 0 {
				files = a.cfg.Bootstrap.Files
			}
			store, err := a.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			return a.applyBootstrap(cmd.Context(), store, files)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "definitions file to apply (repeatable; default bootstrap.files)")
	return cmd
}
