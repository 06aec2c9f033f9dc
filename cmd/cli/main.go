// Package main is the entry point for the snakeplane CLI.
// The CLI runs job files through an executor plugin and inspects running hosts.
package main

import (
	"os"

	"snakeplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
