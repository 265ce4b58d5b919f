package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/backup"
	"github.com/busimap/stackops/internal/stack"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup of the database and media",
	Long:  "Dump the PostgreSQL database and archive uploaded media into a timestamped backup directory, then prune backups past the retention window.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup()
	},
}

func registerBackupCommand(root *cobra.Command) {
	root.AddCommand(backupCmd)
}

func runBackup() error {
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

	manifest, err := backup.NewCoordinator(cfg, ds, store).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Backup %s complete\n", manifest.BackupID)
	fmt.Printf("  database: %s (%d bytes)\n", manifest.Database.Path, manifest.Database.SizeBytes)
	if manifest.Media != nil {
		fmt.Printf("  media:    %s (%d bytes)\n", manifest.Media.Path, manifest.Media.SizeBytes)
	} else {
		fmt.Println("  media:    none")
	}
	return nil
}
