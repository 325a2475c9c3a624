package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/authority"
	"github.com/example/ride-dispatch/internal/autopilot"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/telemetry"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.New("fulfillerd", cfg.LogLevel)

	if cfg.RunMigrations && cfg.PGDSN != "" {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
		} else {
			logger.Info("migrations applied")
		}
	}

	var store storage.SnapshotStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable, using in-memory snapshots", "error", err)
		} else {
			store = ps
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var fwd session.FixForwarder
	if len(cfg.KafkaBrokers) > 0 {
		producer := telemetry.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		fwd = producer
	}

	ch := realtime.NewChannel(realtime.Config{
		URL:                  cfg.ChannelURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, logger)

	sess := session.NewFulfillerSession(session.FulfillerConfig{
		Identity:  realtime.Identity{Role: realtime.RoleFulfiller, ID: cfg.PartyID, Name: cfg.PartyName},
		Channel:   ch,
		Authority: authority.NewClient(cfg.AuthorityURL, cfg.AuthorityToken),
		Thresholds: autopilot.Thresholds{
			ArrivalM:     cfg.ArrivalRadiusM,
			DestinationM: cfg.DestinationRadiusM,
			SpeedKmh:     cfg.StandstillSpeedKmh,
			Debounce:     cfg.TriggerDebounce,
		},
		Store:     store,
		Forwarder: fwd,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sess.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      gateway.NewServer(logger, sess, nil),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("fulfillerd listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_order_snapshots.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
