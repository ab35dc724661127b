// Command provtrail ingests order feeds, detects delivery incidents and
// keeps a verifiable audit trail of every step.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/provtrail/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
