// Package main is the entry point for the watchroom application.
package main

import (
	"os"

	"github.com/watchroom/watchroom/cmd/watchroom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
