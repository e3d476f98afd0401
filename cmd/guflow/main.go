// Command guflow validates, tests, replays and runs CUE-declared workflows
// on Amazon SWF.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/guflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "guflow:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
