package commands

import (
	"strings"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Shut down a running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			// The shutdown endpoint is served at the root, outside /api/v1.
			client.baseURL = strings.TrimSuffix(client.baseURL, "/api/v1")
			if err := client.do(cmd.Context(), "POST", "/internal/shutdown", nil, nil); err != nil {
				cmd.PrintErrln("lemonade is not running")
				osExit(1)
				return nil
			}
			cmd.Println("lemonade stopped")
			return nil
		},
	}
}
