// Package main is the entry point for dslockctl.
package main

import (
	"os"

	"dslock/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
