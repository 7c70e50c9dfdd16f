package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

type modelView struct {
	ID         string `json:"id"`
	Recipe     string `json:"recipe"`
	Checkpoint string `json:"checkpoint"`
	Downloaded bool   `json:"downloaded"`
}

type modelsResponse struct {
	Models []modelView `json:"data"`
}

func newListCmd() *cobra.Command {
	var downloadedOnly bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List available models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			path := "/models?show_all=true"
			if downloadedOnly {
				path = "/models"
			}

			var resp modelsResponse
			if err := client.do(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}

			if len(resp.Models) == 0 {
				cmd.Println("No models available")
				return nil
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
					Borders: tw.BorderNone,
					Settings: tw.Settings{
						Separators: tw.Separators{
							BetweenColumns: tw.Off,
						},
						Lines: tw.Lines{
							ShowHeaderLine: tw.Off,
						},
					},
				})),
				tablewriter.WithConfig(tablewriter.Config{
					Header: tw.CellConfig{
						Formatting: tw.CellFormatting{
							AutoFormat: tw.Off,
						},
						Alignment: tw.CellAlignment{Global: tw.AlignLeft},
						Padding:   tw.CellPadding{Global: tw.Padding{Left: "", Right: "  "}},
					},
					Row: tw.CellConfig{
						Alignment: tw.CellAlignment{Global: tw.AlignLeft},
						Padding:   tw.CellPadding{Global: tw.Padding{Left: "", Right: "  "}},
					},
				}),
			)
			table.Header([]string{"MODEL", "RECIPE", "DOWNLOADED"})

			for _, m := range resp.Models {
				table.Append([]string{
					m.ID,
					m.Recipe,
					fmt.Sprintf("%v", m.Downloaded),
				})
			}

			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&downloadedOnly, "downloaded-only", false, "Only list models already downloaded")
	return cmd
}
