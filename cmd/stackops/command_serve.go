package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/busimap/stackops/internal/router"
	"github.com/busimap/stackops/internal/stack"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Long:  "Expose service states, pipeline run history, the backup registry, and live container logs over HTTP. The API never mutates the stack.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func registerServeCommand(root *cobra.Command) {
	root.AddCommand(serveCmd)
}

func runServe() error {
	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	rt := stack.NewRuntime()
	r := router.New(cfg, rt, store)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Status API listening on %s%s", addr, cfg.Server.PathPrefix)
	return r.Run(addr)
}
