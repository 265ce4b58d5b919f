// Package main is the stackops operator CLI: deploy, back up, restore,
// and maintain the busimap service stack.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes a degraded stack (verify-deployment found
// unhealthy services) from a failed command, so scripts can tell the
// two apart.
func exitCode(err error) int {
	if errors.Is(err, errUnhealthy) {
		return 2
	}
	return 1
}
