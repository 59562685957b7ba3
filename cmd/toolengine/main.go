package main

import (
	"fmt"
	"os"

	"github.com/quadpoint/toolengine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "toolengine: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
