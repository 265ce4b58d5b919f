package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stackops %s\n", version.Version)
		fmt.Printf("Build Time: %s\n", version.BuildTime)
		fmt.Printf("Git Commit: %s\n", version.GitCommit)
	},
}

func registerVersionCommand(root *cobra.Command) {
	root.AddCommand(versionCmd)
}
