// Command statlyd runs the statly productivity-data reconciliation
// engine: one-shot syncs, the periodic sync daemon, and store setup.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
