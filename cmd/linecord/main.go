// linecord relays one LINE square chat into one Discord channel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/linecord/cmd/linecord/internal"
	"github.com/tinyland-inc/linecord/cmd/linecord/internal/relay"
	"github.com/tinyland-inc/linecord/cmd/linecord/internal/state"
	"github.com/tinyland-inc/linecord/cmd/linecord/internal/version"
)

func NewLinecordCommand() *cobra.Command {
	short := fmt.Sprintf("%s linecord - LINE square to Discord relay v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:          "linecord",
		Short:        short,
		Example:      "linecord relay",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		relay.NewRelayCommand(),
		state.NewStateCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewLinecordCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
