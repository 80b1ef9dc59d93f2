// Command kraftsync runs and inspects the offline-first sync core.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
