package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// osExit is indirected so tests can observe an intended exit code
// without killing the test binary.
var osExit = os.Exit

var (
	flagHost     string
	flagPort     string
	flagCtxSize  int32
	flagLogLevel string
	flagLogFile  string
)

// Execute runs the lemonade root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lemonade",
		Short:        "Local LLM inference gateway",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flagHost, "host", "", "Gateway host (default: localhost, or LEMONADE_HOST)")
	cmd.PersistentFlags().StringVar(&flagPort, "port", "", "Gateway port (default: 8000, or LEMONADE_PORT)")
	cmd.PersistentFlags().Int32Var(&flagCtxSize, "ctx-size", 0, "Context size override for load/run")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log verbosity: trace, debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Optional log file path")

	cmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newStopCmd(),
		newListCmd(),
		newPullCmd(),
		newDeleteCmd(),
		newRunCmd(),
	)
	return cmd
}
