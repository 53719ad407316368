// Package main is the entry point for execctl.
// The CLI is the operator terminal tool for the execplane API.
package main

import (
	"execplane/cmd/cli/cmd"
	"os"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
