// Package main is the entry point for the LogGuard service.
package main

import (
	"fmt"
	"os"

	"logguard/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
