// Package main is the entry point for the switchboard CLI.
package main

import (
	"os"

	"github.com/jobswitch-ai/switchboard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
