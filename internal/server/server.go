// ABOUTME: Server orchestration wiring config, store, rooms, gateway, and REST
// ABOUTME: Owns the HTTP listener lifecycle and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stingtao/chat/internal/api"
	"github.com/stingtao/chat/internal/auth"
	"github.com/stingtao/chat/internal/config"
	"github.com/stingtao/chat/internal/gateway"
	"github.com/stingtao/chat/internal/notify"
	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server owns every long-lived component of the chat gateway process.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	rooms    *room.Registry
	notifier notify.Publisher
	http     *http.Server
}

// New builds a fully wired server from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := openNotifier(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	rooms := room.NewRegistry(cfg.Realtime.SessionBuffer, logger)

	handler := api.NewHandler(st, rooms, verifier, notifier, logger)
	gw := gateway.New(verifier, st, rooms, logger)

	mux := handler.Router()
	mux.Method(http.MethodGet, "/ws", gw)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
	}

	return &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		store:    st,
		rooms:    rooms,
		notifier: notifier,
		http: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Database.Path)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Database.URL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func openNotifier(cfg *config.Config, logger *slog.Logger) (notify.Publisher, error) {
	if !cfg.Notify.Enabled {
		return notify.Noop{}, nil
	}
	return notify.NewAMQPPublisher(cfg.Notify.URL, cfg.Notify.Exchange, logger)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(shutdownCtx)
	s.close()
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func (s *Server) close() {
	if err := s.notifier.Close(); err != nil {
		s.logger.Warn("closing notifier", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
}
