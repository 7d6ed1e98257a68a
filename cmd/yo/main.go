// Package main is the entry point for the yo CLI.
package main

import (
	"os"

	"github.com/yo-run/yo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
