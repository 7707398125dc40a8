// Command railyard coordinates multi-service platform releases.
package main

import (
	"os"

	"github.com/roach88/railyard/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
