package relay

import (
	"github.com/spf13/cobra"
)

func NewRelayCommand() *cobra.Command {
	var (
		debug      bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:     "relay",
		Aliases: []string{"r", "run"},
		Short:   "Start relaying the LINE square chat to Discord",
		Args:    cobra.NoArgs,
		Example: `  linecord relay
  linecord relay --debug
  linecord relay --config /etc/linecord/config.json`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return relayCmd(debug, configPath)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Config file path (default: ~/.linecord/config.json)")

	return cmd
}
