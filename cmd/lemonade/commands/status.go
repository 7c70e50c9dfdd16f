package commands

import (
	"github.com/spf13/cobra"
)

type healthResponse struct {
	Status           string  `json:"status"`
	ModelLoaded      *string `json:"model_loaded"`
	CheckpointLoaded *string `json:"checkpoint_loaded"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the gateway is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var health healthResponse
			if err := client.do(cmd.Context(), "GET", "/health", nil, &health); err != nil {
				cmd.PrintErrln("lemonade is not running")
				osExit(1)
				return nil
			}

			cmd.Println("lemonade is running")
			if health.ModelLoaded != nil {
				cmd.Printf("Loaded model: %s\n", *health.ModelLoaded)
			} else {
				cmd.Println("No model loaded")
			}
			return nil
		},
	}
}
