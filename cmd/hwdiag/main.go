// Package main provides the hwdiag CLI entry point.
//
// hwdiag stages and runs stress-ng, samples process state into a local
// store, and serves a live status page while it works.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/randomizedcoder/go-hwdiag/internal/cli"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/hwdiag
var version = "dev"

func main() {
	if err := cli.New(version).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
