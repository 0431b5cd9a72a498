package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MaheshSundaramurthy/botmetrics/internal/domain"
)

// NewTenantCmd manages bot installations.
func NewTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage bot installations",
	}
	cmd.AddCommand(newTenantAddCmd(), newTenantWebhookCmd())
	return cmd
}

func newTenantAddCmd() *cobra.Command {
	var (
		bot     domain.Bot
		inst    domain.BotInstance
		webhook string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a bot and install it under a namespace",
		Example: `  botmetrics tenant add --bot-uid metrics --namespace T024BE7LD --uid UBOT123 --team-id T024BE7LD`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if bot.UID == "" || inst.Namespace == "" || inst.UID == "" {
				return errors.New("--bot-uid, --namespace and --uid are required")
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openBackend(ctx, cfg.Store, false)
			if err != nil {
				return err
			}
			defer store.Close()

			if webhook != "" {
				bot.WebhookURL = &webhook
			}
			if err := store.CreateBot(ctx, &bot); err != nil {
				return err
			}
			inst.BotID = bot.ID
			if err := store.CreateBotInstance(ctx, &inst); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "bot %d installed as tenant %d (namespace %s, provider %s)\n",
				bot.ID, inst.ID, inst.Namespace, inst.Provider)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&bot.UID, "bot-uid", "", "bot product uid")
	f.StringVar(&bot.Name, "bot-name", "", "bot display name")
	f.StringVar(&webhook, "webhook", "", "webhook url events are forwarded to")
	f.StringVar(&inst.Namespace, "namespace", "", "routing namespace of the installation")
	f.StringVar(&inst.UID, "uid", "", "the bot's user id within the team")
	f.StringVar(&inst.Provider, "provider", domain.DefaultProvider, "chat provider")
	f.StringVar(&inst.InstanceAttributes.TeamID, "team-id", "", "provider team id")
	f.StringVar(&inst.InstanceAttributes.TeamName, "team-name", "", "provider team name")
	f.StringVar(&inst.InstanceAttributes.TeamURL, "team-url", "", "provider team url")
	return cmd
}

func newTenantWebhookCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "webhook BOT_ID [URL]",
		Short: "Set or clear a bot's webhook url",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			botID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bot id: %w", err)
			}
			var url *string
			switch {
			case clear:
			case len(args) == 2:
				url = &args[1]
			default:
				return errors.New("url required unless --clear is set")
			}

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			store, err := openBackend(cmd.Context(), cfg.Store, false)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.SetWebhookURL(cmd.Context(), botID, url)
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the webhook")
	return cmd
}
