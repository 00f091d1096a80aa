// Package main implements fbctl, a command-line client for the feedbackd
// HTTP API.
package main

import (
	"os"
)

// version is set via ldflags during build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
