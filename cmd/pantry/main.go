// Command pantry runs the offline sync sidecar.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pantry/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pantry:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
