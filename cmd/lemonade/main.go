// lemonade is the local inference gateway's CLI: it both runs the
// gateway (serve) and talks to an already-running one (status, stop,
// list, pull, delete, run).
package main

import (
	"fmt"
	"os"

	"github.com/lemonade-sdk/lemonade/cmd/lemonade/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
