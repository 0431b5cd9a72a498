// Package cli wires configuration, storage and transport into commands.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/MaheshSundaramurthy/botmetrics/internal/config"
	"github.com/MaheshSundaramurthy/botmetrics/internal/logger"
)

type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

type contextKey struct{}

// NewRootCmd builds the botmetrics command tree.
func NewRootCmd() *cobra.Command {
	var flags GlobalFlags

	root := &cobra.Command{
		Use:   "botmetrics",
		Short: "Bot event normalization and routing service",
		Long: `botmetrics receives chat platform events, records them as canonical
events per bot installation and dispatches follow-up jobs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return err
			}
			if flags.Verbose {
				cfg.Log.Level = "debug"
			}
			if err := logger.Init(cfg.Log); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, &cfg))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Close()
		},
	}

	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(NewVersionCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewMigrateCmd())
	root.AddCommand(NewTenantCmd())
	return root
}

func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(contextKey{}).(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
