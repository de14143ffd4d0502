package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"ezywork/internal/auth"
	"ezywork/internal/config"
	"ezywork/internal/db"
	httpx "ezywork/internal/http"
	"ezywork/internal/logging"
	"ezywork/internal/metrics"
	"ezywork/internal/notifier"
	"ezywork/internal/presence"
	"ezywork/internal/problem"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and worker notification streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cfg, logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))
		},
	}
}

func serve(cfg config.Config, log *slog.Logger) error {
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		return err
	}

	m := metrics.NewPrometheus("")
	hub := notifier.NewHub(
		notifier.WithBuffer(cfg.SubscriberBuffer),
		notifier.WithLogger(log),
		notifier.WithMetrics(m),
	)
	defer hub.Close()

	presenceSvc := &presence.Service{DB: gdb, Hub: hub, Log: log}

	var pub problem.Publisher = hub
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("ezywork"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		relay := notifier.NewRelay(nc, cfg.NATSSubject, hub, log)
		relay.OnPresence(func(workerID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := presenceSvc.Resync(ctx, workerID); err != nil {
				log.Warn("presence resync failed", "worker", workerID, "err", err)
			}
		})
		if err := relay.Start(); err != nil {
			return err
		}
		defer relay.Close()
		pub = relay
		presenceSvc.Peers = relay
		log.Info("notifier relay enabled", "nats", cfg.NATSURL, "subject", cfg.NATSSubject)
	}

	var jwtSvc *auth.JWT
	if cfg.JWTSecret != "" {
		jwtSvc = auth.NewJWT(cfg.JWTSecret)
	} else {
		log.Warn("JWT_SECRET not set, requests are not authenticated")
	}

	r := httpx.NewRouter(cfg, httpx.Deps{
		Problems: &problem.Store{DB: gdb, Publisher: pub, Log: log, Metrics: m},
		Presence: presenceSvc,
		Hub:      hub,
		JWT:      jwtSvc,
		Metrics:  m,
		Log:      log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
	case err := <-errCh:
		return err
	}

	log.Info("shutting down")
	// open streams only end once their connections are closed
	hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
