package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/ctirag/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd()

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}

	handled, err := cli.CheckHelpJSON(rootCmd, args, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if handled {
		return
	}

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
