package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-dispatch/internal/authority"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/routing"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.New("requesterd", cfg.LogLevel)

	var matrix routing.Matrix
	switch cfg.RoutingBackend {
	case "osrm":
		matrix = routing.NewOSRMClient(cfg.OSRMBaseURL)
	case "google":
		gm, err := routing.NewGoogleMatrix(cfg.GoogleAPIKey)
		if err != nil {
			logger.Error("google matrix init failed", "error", err)
			os.Exit(1)
		}
		matrix = gm
	default:
		logger.Warn("no routing backend configured, estimates will be approximate")
	}

	ranker := matching.NewRanker(matrix, logger)
	ranker.PrefilterRadiusM = cfg.PrefilterRadiusM
	ranker.FallbackSpeedMps = cfg.FallbackSpeedMps

	var cache geo.Geo
	if cfg.RedisAddr != "" {
		cache = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		cache = geo.NewIndex()
	}

	var settler session.Settler
	if cfg.StripeKey != "" {
		settler = payments.NewStripeClient(cfg.StripeKey, cfg.StripeCurrency)
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

	ch := realtime.NewChannel(realtime.Config{
		URL:                  cfg.ChannelURL,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, logger)

	sess := session.NewRequesterSession(session.RequesterConfig{
		Identity:  realtime.Identity{Role: realtime.RoleRequester, ID: cfg.PartyID, Name: cfg.PartyName},
		Channel:   ch,
		Authority: authority.NewClient(cfg.AuthorityURL, cfg.AuthorityToken),
		Ranker:    ranker,
		Cache:     cache,
		Tariff:    fare.DefaultTariff(),
		Payments:  settler,
		Customer:  cfg.StripeCustomer,
		Store:     store,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sess.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      gateway.NewServer(logger, nil, sess),
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

	logger.Info("requesterd listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server stopped", "error", err)
		os.Exit(1)
	}
}
