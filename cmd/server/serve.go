package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/scheduler"
	"github.com/mmynk/splitledger/internal/server"
	"github.com/mmynk/splitledger/internal/service"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/mmynk/splitledger/pkg/logging"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)

	migrateCmd.Flags().String("db", "", "Database path (overrides the config file)")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl_minutes)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger server",
	RunE:  runServe,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func openStore(cfg *config.Config) (*sqlite.SQLiteStore, error) {
	return sqlite.New(cfg.Database.Path, sqlite.Options{
		MaxAttempts: cfg.Database.MaxTxAttempts,
		BusyTimeout: cfg.BusyTimeout(),
		OnRetry: func(attempt int) {
			metrics.TxRetries.Inc()
			slog.Debug("Retrying busy transaction", "attempt", attempt)
		},
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.Database.Path)

	hub := notify.NewHub(cfg.Notifications.SubscriberBuffer)
	dispatcher := notify.NewDispatcher(store, hub, notify.DispatcherConfig{
		PollInterval: cfg.PollInterval(),
		BatchSize:    cfg.Notifications.BatchSize,
	})
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	if err := dispatcher.Start(dispatchCtx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	manager := ledger.NewManager(store, notify.NewPublisher(), dispatcher, ledger.Config{
		MaxMembers:      cfg.Ledger.MaxMembers,
		ShareLinkTTL:    time.Duration(cfg.Ledger.ShareLinkTTLHours) * time.Hour,
		MaxShareLinkTTL: time.Duration(cfg.Ledger.MaxShareLinkTTLHours) * time.Hour,
	})

	sched, err := scheduler.New(scheduler.NewJobs(store, cfg.Retention()), cfg.Scheduler)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.TokenTTL())
	srv := server.New(
		service.NewLedgerService(manager),
		service.NewGroupService(manager),
		service.NewNotificationService(manager, hub),
		jwtManager,
	)
	if cfg.Server.EnableMetrics {
		srv.EnableMetrics()
	}

	// Streams end when the hub closes, so close it before the server drains.
	go func() {
		<-ctx.Done()
		hub.Close()
	}()

	err = srv.ListenAndServe(ctx, cfg.Address())

	stopDispatch()
	dispatcher.Wait()
	slog.Info("Server stopped")
	return err
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		if dbPath == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbPath = cfg.Database.Path
		}
		if err := sqlite.Migrate(dbPath); err != nil {
			return err
		}
		slog.Info("Migrations applied", "database", dbPath)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Issue a bearer token for local development",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl == 0 {
			ttl = cfg.TokenTTL()
		}
		token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, ttl).Generate(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
