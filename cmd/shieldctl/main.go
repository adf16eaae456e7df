// shieldctl drives a running ScamShield server from the terminal.
package main

import (
	"fmt"
	"os"
)

// Build info - set by ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
