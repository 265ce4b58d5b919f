package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/orchestrator"
	"github.com/busimap/stackops/internal/stack"
)

// errUnhealthy marks a verification that found unhealthy services, so
// main can exit 2 instead of the generic failure code.
var errUnhealthy = errors.New("services unhealthy")

var verifyCmd = &cobra.Command{
	Use:   "verify-deployment",
	Short: "Probe every service once and report the unhealthy ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify()
	},
}

func registerVerifyCommand(root *cobra.Command) {
	root.AddCommand(verifyCmd)
}

func runVerify() error {
	ctx, cancel := signalContext()
	defer cancel()

	rt := stack.NewRuntime()
	unhealthy, err := orchestrator.New(cfg, rt, nil, nil).Verify(ctx)
	if err != nil {
		return err
	}

	if len(unhealthy) == 0 {
		fmt.Printf("✓ All %d services healthy\n", len(cfg.Stack.Services))
		return nil
	}
	for _, svc := range unhealthy {
		fmt.Printf("✗ %s (%s): %s\n", svc.Name, svc.Container, svc.Status)
		lines, err := rt.TailLines(ctx, svc.Container, 10)
		if err != nil {
			continue
		}
		for _, line := range lines {
			fmt.Printf("    %s\n", line)
		}
	}
	return fmt.Errorf("%w: %d of %d services", errUnhealthy, len(unhealthy), len(cfg.Stack.Services))
}
