// Package main provides the entry point for the iflow CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lxyhes/iflow-engine/cmd/iflow/commands"
)

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
