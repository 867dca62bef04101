package main

import (
	"fmt"
	"os"

	"unified-planner/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "planner:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
