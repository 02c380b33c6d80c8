// Command causeway runs, validates and inspects tracked world phases.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/causeway/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
