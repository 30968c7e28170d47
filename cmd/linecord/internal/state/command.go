package state

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/linecord/cmd/linecord/internal"
	"github.com/tinyland-inc/linecord/pkg/store"
)

func NewStateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset persisted relay state",
		Example: `  linecord state show
  linecord state clear-webhook --config /etc/linecord/config.json`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file path (default: ~/.linecord/config.json)")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print stored keys with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), configPath, func(st store.Store) error {
				return show(cmd.Context(), st, cmd.OutOrStdout())
			})
		},
	}

	clearWebhookCmd := &cobra.Command{
		Use:   "clear-webhook",
		Short: "Forget the Discord webhook so the next start creates a new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), configPath, func(st store.Store) error {
				if err := st.Delete(cmd.Context(), store.KeyDiscordWebhook); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Discord webhook cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(showCmd, clearWebhookCmd)
	return cmd
}

func withStore(ctx context.Context, configPath string, fn func(store.Store) error) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	st, err := internal.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func show(ctx context.Context, st store.Store, w io.Writer) error {
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap) == 0 {
		fmt.Fprintln(w, "No state stored")
		return nil
	}

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, redact(k, snap[k]))
	}
	return nil
}

// redact hides credentials: the auth token is cut to a prefix and the
// webhook URL loses its trailing token segment.
func redact(key, value string) string {
	switch key {
	case store.KeyAuthToken:
		if len(value) <= 4 {
			return "****"
		}
		return value[:4] + "****"
	case store.KeyDiscordWebhook:
		if i := strings.LastIndex(value, "/"); i >= 0 {
			return value[:i+1] + "****"
		}
		return "****"
	default:
		return value
	}
}
