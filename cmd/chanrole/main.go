// Package main is the entry point for chanrole, the per-role pipeline
// process executable. It wraps a single input/transcoder/output role in
// its own core.Machine and runs it to completion, the invocation shape
// described in spec.md §6's process invocation convention. The Lifecycle
// Manager execs chanrole as a subprocess for each role of a channel it
// starts; it can also be run standalone, for debugging one role in
// isolation against a catalog file.
package main

import (
	"os"

	"github.com/rivermedia/chancore/cmd/chanrole/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
