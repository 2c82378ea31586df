// Command muxfetch runs concurrent HTTP fetches through a shared engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/muxfetch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
