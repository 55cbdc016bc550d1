// Package main is the entry point for the cadbridge CLI.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "cadbridge: %v\n", err)
		os.Exit(exitCode(err))
	}
}
