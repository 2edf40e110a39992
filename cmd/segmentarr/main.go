// Package main is the entry point for the segmentarr application.
package main

import (
	"os"

	"github.com/jmylchreest/segmentarr/cmd/segmentarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
