package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			store, err := openBackend(cmd.Context(), cfg.Store, true)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Ready(cmd.Context()); err != nil {
				return fmt.Errorf("store not ready: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Store.Driver)
			return err
		},
	}
}
