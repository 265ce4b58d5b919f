package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/bootstrap"
	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/orchestrator"
	"github.com/busimap/stackops/internal/stack"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [environment]",
	Short: "Run the deployment pipeline",
	Long:  "Start the data tier, wait for health, apply migrations and seed data, rebuild artifacts, then bring up and verify the full stack.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Environment = args[0]
		}
		return runDeploy()
	},
}

func registerDeployCommand(root *cobra.Command) {
	root.AddCommand(deployCmd)
}

func runDeploy() error {
	lock, err := acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	rt := stack.NewRuntime()
	ds, err := dataStoreClient(rt)
	if err != nil {
		return err
	}
	app, err := appContainer()
	if err != nil {
		return err
	}
	boot := bootstrap.NewRunner(rt, app, ds)

	ctx, cancel := signalContext()
	defer cancel()

	run, err := orchestrator.New(cfg, rt, boot, store).Deploy(ctx)
	if run != nil {
		printRun(run)
	}
	return err
}

func printRun(run *models.PipelineRun) {
	for _, stage := range run.Stages {
		mark := "✓"
		if stage.Outcome != models.StageSuccess {
			mark = "✗"
		}
		fmt.Printf("%s %-28s %6dms  %s\n", mark, stage.Stage, stage.DurationMs, stage.Detail)
	}
	fmt.Printf("Run %s: %s\n", run.ID, run.Status)
}
