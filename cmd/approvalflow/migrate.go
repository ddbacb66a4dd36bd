package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			a.logger.WithField("driver", a.cfg.Storage.Driver).Info("migrations applied")
			return nil
		},
	}
}
