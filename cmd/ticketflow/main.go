// Ticketflow server — ingests CRM webhooks, mirrors tickets into Splynx,
// distributes them across the support team and escalates overdue ones over
// WhatsApp.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ipnext/ticketflow/pkg/api"
	"github.com/ipnext/ticketflow/pkg/assignment"
	"github.com/ipnext/ticketflow/pkg/control"
	"github.com/ipnext/ticketflow/pkg/database"
	"github.com/ipnext/ticketflow/pkg/escalation"
	"github.com/ipnext/ticketflow/pkg/ingest"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/scheduler"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/shift"
	"github.com/ipnext/ticketflow/pkg/splynx"
	syncworker "github.com/ipnext/ticketflow/pkg/sync"
	"github.com/ipnext/ticketflow/pkg/timeutil"
	"github.com/ipnext/ticketflow/pkg/whatsapp"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	httpPort := getEnv("HTTP_PORT", "8080")
	stateDir := getEnv("STATE_DIR", "./state")

	slog.Info("Starting ticketflow",
		"http_port", httpPort,
		"state_dir", stateDir,
		"timezone", timeutil.TimezoneName)

	ctx := context.Background()

	// Database + migrations.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	repo := repository.New(dbClient.DB, logger)
	config := settings.NewStore(dbClient.DB, logger)

	// Outbound clients.
	skipTLS := false
	if v := os.Getenv("SPLYNX_SSL_VERIFY"); v != "" {
		verify, parseErr := strconv.ParseBool(v)
		if parseErr == nil && !verify {
			skipTLS = true
		}
	}
	splynxClient := splynx.NewClient(splynx.Config{
		BaseURL:       os.Getenv("SPLYNX_BASE_URL"),
		User:          os.Getenv("SPLYNX_USER"),
		Password:      os.Getenv("SPLYNX_PASSWORD"),
		GroupID:       os.Getenv("SPLYNX_GROUP_ID"),
		SkipTLSVerify: skipTLS,
	})

	notifier := whatsapp.NewService(whatsapp.ServiceConfig{
		BaseURL:  os.Getenv("EVOLUTION_API_BASE_URL"),
		Instance: os.Getenv("EVOLUTION_INSTANCE_NAME"),
		APIKey:   os.Getenv("EVOLUTION_API_KEY"),
	})
	if notifier == nil {
		slog.Warn("WhatsApp gateway not configured, notifications disabled")
	}

	gate, err := control.NewPauseGate(filepath.Join(stateDir, "pause_state.json"))
	if err != nil {
		slog.Error("Failed to load pause state", "error", err)
		os.Exit(1)
	}

	// Workers.
	clock := timeutil.RealClock{}
	engine := assignment.NewEngine(repo, config, logger)
	distributor := assignment.NewDistributor(repo, splynxClient, engine, config, notifier, clock, logger)
	ingester := ingest.NewIngester(repo, splynxClient, engine, config, notifier, clock, logger)
	syncWorker := syncworker.NewWorker(repo, splynxClient, config, notifier, clock, logger)
	escalationWorker := escalation.NewWorker(repo, splynxClient, config, notifier, clock, logger)
	shiftWorker := shift.NewWorker(repo, splynxClient, config, notifier, clock, logger)

	processWebhooks := func(ctx context.Context) error {
		if _, err := ingester.MaterializeWebhooks(ctx); err != nil {
			return err
		}
		_, err := ingester.MirrorPending(ctx)
		return err
	}
	assignUnassigned := func(ctx context.Context) error {
		_, err := distributor.AssignUnassigned(ctx)
		return err
	}
	importExisting := func(ctx context.Context) error {
		_, err := syncWorker.ImportExisting(ctx)
		return err
	}

	sched := scheduler.New(scheduler.Jobs{
		ProcessWebhooks:  processWebhooks,
		AssignUnassigned: assignUnassigned,
		AlertOverdue:     escalationWorker.AlertOverdue,
		PreAlert:         escalationWorker.PreAlert,
		EndOfShift:       shiftWorker.SendEndOfShiftSummaries,
		AutoUnassign:     shiftWorker.AutoUnassignAfterShift,
		SyncStatus:       syncWorker.Sync,
		ImportExisting:   importExisting,
		ReopenChecker:    syncWorker.CheckReopenWindows,
		ResetCounters:    repo.ResetCounters,
	}, config, gate, clock, logger)

	lockPath := filepath.Join(stateDir, "scheduler.pid")
	if err := sched.Start(ctx, lockPath); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// HTTP surface.
	apiServer := api.NewServer(repo, config, gate, api.Triggers{
		ProcessWebhooks:  processWebhooks,
		AssignUnassigned: assignUnassigned,
		AlertOverdue:     escalationWorker.AlertOverdue,
		EndOfShift:       shiftWorker.SendEndOfShiftSummaries,
		AutoUnassign:     shiftWorker.AutoUnassignAfterShift,
		SyncStatus:       syncWorker.Sync,
		ImportExisting:   importExisting,
	}, dbClient.RawDB(), logger)

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Ticketflow started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop taking new requests first, then let running jobs finish.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	sched.Stop()

	slog.Info("Shutdown complete")
}
