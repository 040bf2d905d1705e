package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/flightops/internal/audit"
	"github.com/fentz26/flightops/internal/authority"
	"github.com/fentz26/flightops/internal/config"
	"github.com/fentz26/flightops/internal/connectors/httpworker"
	"github.com/fentz26/flightops/internal/controlplane"
	"github.com/fentz26/flightops/internal/logging"
	"github.com/fentz26/flightops/internal/notify"
	"github.com/fentz26/flightops/internal/scheduler"
	"github.com/fentz26/flightops/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the flightops daemon",
	Long:  `Starts the daemon which runs the assignment scheduler and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides server.listen)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides database.dsn)")
}

// loadConfig applies the daemon flags on top of the file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Database = store.Config{Driver: store.DriverSQLite, DSN: dbPath}
	}
	return cfg, nil
}

func newNotifier(ctx context.Context, cfg *config.Config, log *logrus.Entry) notify.Notifier {
	r := cfg.Notify.Redis
	if r.Addr == "" {
		return notify.NewLocal()
	}
	n, err := notify.NewRedis(ctx, notify.RedisConfig{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Channel:  r.Channel,
	}, log)
	if err != nil {
		log.WithError(err).Warn("redis notifier unavailable, falling back to in-process wake-ups")
		return notify.NewLocal()
	}
	return n
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log)
	log := logging.Component(logger, "daemon")
	log.WithFields(logrus.Fields{
		"driver": cfg.Database.Driver,
		"listen": cfg.Server.Listen,
	}).Info("starting flightops daemon")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Initialize store
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}

	workers, err := s.SyncWorkers(ctx, cfg.Workers)
	if err != nil {
		s.Close()
		return err
	}
	if len(workers) > 0 {
		log.WithField("workers", len(workers)).Info("worker pool synced from configuration")
	}

	// Initialize components
	recorder := audit.NewRecorder(s)
	notifier := newNotifier(ctx, cfg, logging.Component(logger, "notify"))
	connector := httpworker.New(
		httpworker.WithPath(cfg.Dispatch.Path),
	)

	// Create service and server
	auth := authority.NewService(s, recorder, logging.Component(logger, "authority"))
	service := controlplane.NewService(s, recorder, auth, notifier, logging.Component(logger, "controlplane"))
	server := controlplane.NewServer(service, cfg.Server.Listen, logging.Component(logger, "http"))

	// Create and start scheduler
	sched := scheduler.New(s, recorder, connector, notifier, &scheduler.Config{
		Interval:        cfg.Scheduler.Interval,
		MaxInterval:     cfg.Scheduler.MaxInterval,
		LockTTL:         cfg.Scheduler.LockTTL,
		DispatchTimeout: cfg.Dispatch.Timeout,
	}, logging.Component(logger, "scheduler"))
	server.SetScheduler(sched)
	sched.Start()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("server error")
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	log.Info("stopping scheduler")
	sched.Stop()

	if err := notifier.Close(); err != nil {
		log.WithError(err).Warn("notifier close error")
	}

	log.Info("closing database connection")
	if err := s.Close(); err != nil {
		log.WithError(err).Warn("database close error")
	}

	log.Info("shutdown complete")
	return runErr
}
