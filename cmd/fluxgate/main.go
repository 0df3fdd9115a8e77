// Package main provides the FluxGate gateway CLI.
package main

import (
	"os"

	"github.com/fluxstack-labs/fluxgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
