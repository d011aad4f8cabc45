// Package main is the entry point for chancored, the control-plane daemon.
package main

import (
	"os"

	"github.com/rivermedia/chancore/cmd/chancored/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
