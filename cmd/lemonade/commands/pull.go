package commands

import (
	"github.com/spf13/cobra"
)

type pullRequest struct {
	ModelName  string   `json:"model_name"`
	Checkpoint string   `json:"checkpoint,omitempty"`
	Recipe     string   `json:"recipe,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

func newPullCmd() *cobra.Command {
	var (
		checkpoint string
		recipe     string
		reasoning  bool
		vision     bool
		embedding  bool
		reranking  bool
		mmproj     string
	)

	cmd := &cobra.Command{
		Use:   "pull <name>",
		Short: "Download a model without loading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pullRequest{
				ModelName:  args[0],
				Checkpoint: checkpoint,
				Recipe:     recipe,
			}
			if reasoning {
				req.Labels = append(req.Labels, "reasoning")
			}
			if vision {
				req.Labels = append(req.Labels, "vision")
			}
			if embedding {
				req.Labels = append(req.Labels, "embeddings")
			}
			if reranking {
				req.Labels = append(req.Labels, "reranking")
			}
			if mmproj != "" {
				req.Labels = append(req.Labels, "mmproj:"+mmproj)
			}

			client := newAPIClient()
			if err := client.do(cmd.Context(), "POST", "/pull", req, nil); err != nil {
				return err
			}
			cmd.Printf("Pulled %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Hugging Face checkpoint, for a new user-defined model")
	cmd.Flags().StringVar(&recipe, "recipe", "", "Backend recipe for a new user-defined model (default: llamacpp)")
	cmd.Flags().BoolVar(&reasoning, "reasoning", false, "Mark the new model as a reasoning model")
	cmd.Flags().BoolVar(&vision, "vision", false, "Mark the new model as a vision model")
	cmd.Flags().BoolVar(&embedding, "embedding", false, "Mark the new model as an embedding model")
	cmd.Flags().BoolVar(&reranking, "reranking", false, "Mark the new model as a reranking model")
	cmd.Flags().StringVar(&mmproj, "mmproj", "", "Multimodal projector file name, for vision models")
	return cmd
}
