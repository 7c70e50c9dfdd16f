package commands

import (
	"github.com/spf13/cobra"
)

type deleteRequest struct {
	ModelName string `json:"model_name"`
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a downloaded model from disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			if err := client.do(cmd.Context(), "POST", "/delete", deleteRequest{ModelName: args[0]}, nil); err != nil {
				return err
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}
