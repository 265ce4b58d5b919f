package main

import (
	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/restore"
	"github.com/busimap/stackops/internal/stack"
)

var restoreYes bool

var restoreCmd = &cobra.Command{
	Use:   "restore [backup-id] [environment]",
	Short: "Restore the database and media from a backup",
	Long:  "Destructively replace the live database and media with a prior backup. Without a backup ID the most recent completed backup is used. Requires --yes.",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupID := ""
		if len(args) >= 1 {
			backupID = args[0]
		}
		if len(args) == 2 {
			cfg.Environment = args[1]
		}
		return runRestore(backupID)
	},
}

func registerRestoreCommand(root *cobra.Command) {
	root.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVar(&restoreYes, "yes", false, "Confirm the destructive restore")
}

func runRestore(backupID string) error {
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

	ctx, cancel := signalContext()
	defer cancel()

	req := models.RestoreRequest{
		BackupID:    backupID,
		Environment: cfg.Environment,
		Confirmed:   restoreYes,
	}
	run, err := restore.NewCoordinator(cfg, rt, ds, store).Run(ctx, req)
	if run != nil {
		printRun(run)
	}
	return err
}
