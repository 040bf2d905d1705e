package main

import (
	"context"
	"fmt"

	"github.com/fentz26/flightops/internal/audit"
	"github.com/fentz26/flightops/internal/logging"
	"github.com/fentz26/flightops/internal/recovery"
	"github.com/fentz26/flightops/internal/store"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reconcile workers and plans after a crash",
	Long: `Opens the store directly and, in one transaction, marks every worker
available, returns every in-progress plan to the queue and discards results
shorter than --min-result-bytes. Run it while the daemon is stopped.`,
	RunE: runRecover,
}

var (
	minResultBytes int
	recoverDB      string
)

func init() {
	recoverCmd.Flags().IntVar(&minResultBytes, "min-result-bytes", -1, "Discard results smaller than this (default from recovery.min_result_bytes, 0 keeps all)")
	recoverCmd.Flags().StringVar(&recoverDB, "db", "", "Path to SQLite database (overrides database.dsn)")
}

func runRecover(cmd *cobra.Command, args []string) error {
	dbPath = recoverDB
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if minResultBytes >= 0 {
		cfg.Recovery.MinResultBytes = minResultBytes
	}

	logger := logging.New(cfg.Log)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	tool := recovery.New(s, audit.NewRecorder(s), recovery.Config{
		MinResultBytes: cfg.Recovery.MinResultBytes,
	}, logging.Component(logger, "recovery"))

	report, err := tool.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Workers released:  %d\n", report.WorkersReleased)
	fmt.Printf("Plans requeued:    %d\n", report.PlansRequeued)
	fmt.Printf("Results discarded: %d\n", report.ResultsDiscarded)
	return nil
}
