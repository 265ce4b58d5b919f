package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/database"
	"github.com/busimap/stackops/internal/datastore"
	"github.com/busimap/stackops/internal/history"
	"github.com/busimap/stackops/internal/lockfile"
	"github.com/busimap/stackops/internal/stack"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "stackops",
	Short:        "Operate the busimap service stack",
	Long:         "stackops deploys, backs up, restores, and maintains the busimap container stack on a single host.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(configFile)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (defaults apply when omitted)")

	registerDeployCommand(rootCmd)
	registerBackupCommand(rootCmd)
	registerRestoreCommand(rootCmd)
	registerMaintenanceCommand(rootCmd)
	registerVerifyCommand(rootCmd)
	registerServeCommand(rootCmd)
	registerVersionCommand(rootCmd)
}

// signalContext cancels on SIGINT/SIGTERM so a pipeline stops at the
// next stage boundary.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openStore opens the state database, runs migrations, and returns the
// history store with a cleanup func.
func openStore() (*history.Store, func(), error) {
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate state database: %w", err)
	}
	return history.NewStore(db), func() { _ = db.Close() }, nil
}

// acquireLock takes the single-operation lock shared by deploy, backup,
// restore, and maintenance.
func acquireLock() (*lockfile.Lock, error) {
	return lockfile.Acquire(cfg.Backup.LockPath)
}

// dataStoreClient builds the database client bound to the PostgreSQL
// container.
func dataStoreClient(rt *stack.Runtime) (*datastore.Client, error) {
	svc, ok := cfg.Service(cfg.Stack.DataStoreService)
	if !ok {
		return nil, fmt.Errorf("datastore service %q not declared", cfg.Stack.DataStoreService)
	}
	return datastore.NewClient(rt, svc.Container), nil
}

// appContainer resolves the container running manage.py.
func appContainer() (string, error) {
	svc, ok := cfg.Service(cfg.Stack.AppService)
	if !ok {
		return "", fmt.Errorf("application service %q not declared", cfg.Stack.AppService)
	}
	return svc.Container, nil
}
