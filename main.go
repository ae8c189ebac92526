// Package main is the entry point for the gb28181-nvr media source device.
package main

import (
	"fmt"
	"os"

	"github.com/firestige/gb28181-nvr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
