// Command storyflow lints story-language text, validates narrative
// projects, plays flows and inspects recorded sessions.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/storyflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
