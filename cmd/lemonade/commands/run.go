package commands

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens *int32        `json:"max_tokens,omitempty"`
}

type chatCompletionChoice struct {
	Message chatMessage `json:"message"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Load a model and send one prompt from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelName := args[0]

			cmd.Println("Type your prompt, then press Ctrl-D:")
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			var prompt string
			for scanner.Scan() {
				if prompt != "" {
					prompt += "\n"
				}
				prompt += scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read prompt: %w", err)
			}

			req := chatCompletionRequest{
				Model: modelName,
				Messages: []chatMessage{
					{Role: "user", Content: prompt},
				},
			}
			if flagCtxSize > 0 {
				loadReq := loadRequestCLI{ModelName: modelName, ContextSize: &flagCtxSize}
				client := newAPIClient()
				if err := client.do(cmd.Context(), "POST", "/load", loadReq, nil); err != nil {
					return err
				}
			}

			client := newAPIClient()
			var resp chatCompletionResponse
			if err := client.do(cmd.Context(), "POST", "/chat/completions", req, &resp); err != nil {
				return err
			}

			if len(resp.Choices) == 0 {
				cmd.Println("(no response)")
				return nil
			}
			cmd.Println(resp.Choices[0].Message.Content)
			return nil
		},
	}
	return cmd
}

type loadRequestCLI struct {
	ModelName   string `json:"model_name"`
	ContextSize *int32 `json:"context-size,omitempty"`
}
