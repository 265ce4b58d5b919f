package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/maintenance"
	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/orchestrator"
	"github.com/busimap/stackops/internal/stack"
)

var maintenanceSchedule string

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run the housekeeping pass",
	Long:  "Prune aged rides, transactions, and sessions, refresh analytics, reclaim database space, rotate logs, and check backup freshness. With --schedule the pass repeats on a cron expression until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance()
	},
}

func registerMaintenanceCommand(root *cobra.Command) {
	root.AddCommand(maintenanceCmd)

	maintenanceCmd.Flags().StringVar(&maintenanceSchedule, "schedule", "", "Cron expression to run maintenance on (e.g. \"0 3 * * *\")")
}

func runMaintenance() error {
	rt := stack.NewRuntime()
	ds, err := dataStoreClient(rt)
	if err != nil {
		return err
	}
	verifier := orchestrator.New(cfg, rt, nil, nil)
	runner := maintenance.NewRunner(cfg, ds, rt, verifier)

	ctx, cancel := signalContext()
	defer cancel()

	if maintenanceSchedule != "" {
		return maintenance.Schedule(ctx, maintenanceSchedule, func() {
			if err := maintenancePass(runner); err != nil {
				log.Printf("maintenance pass failed: %v", err)
			}
		})
	}
	return maintenancePass(runner)
}

// maintenancePass runs one pass under the operation lock and reports
// per-task outcomes. Failed tasks make the pass fail after all tasks
// have had their turn.
func maintenancePass(runner *maintenance.Runner) error {
	lock, err := acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	printReport(report)

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d maintenance tasks failed: %v", len(failed), failed)
	}
	return nil
}

func printReport(report *models.MaintenanceReport) {
	for _, task := range report.Tasks {
		if task.Completed {
			fmt.Printf("✓ %-20s %s\n", task.Name, task.Detail)
		} else {
			fmt.Printf("✗ %-20s %s\n", task.Name, task.Error)
		}
	}
	if report.UnhealthyServices > 0 {
		fmt.Printf("! %d services unhealthy\n", report.UnhealthyServices)
	}
	fmt.Printf("Disk used: %.1f%%, backup age: %.1f days\n", report.DiskUsedPercent, report.BackupAgeDays)
}
