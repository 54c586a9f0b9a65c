// Command relq compiles and runs scenario files.
package main

import (
	"os"

	"github.com/coregx/relq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
