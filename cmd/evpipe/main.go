// Package main is the entry point for the evpipe binary.
package main

import (
	"os"

	cli "ev-pipeline/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
