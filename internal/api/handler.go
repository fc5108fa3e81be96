// ABOUTME: REST surface for the chat product: messages, friendships, health
// ABOUTME: chi router with auth, logging, CORS, and metrics middleware

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stingtao/chat/internal/auth"
	"github.com/stingtao/chat/internal/notify"
	"github.com/stingtao/chat/internal/room"
	"github.com/stingtao/chat/internal/store"
)

// Handler carries the collaborators the REST endpoints need.
type Handler struct {
	store    store.Store
	rooms    *room.Registry
	verifier auth.Verifier
	notifier notify.Publisher
	logger   *slog.Logger
}

// NewHandler creates the REST handler. Pass notify.Noop{} when offline push
// is disabled and nil logger for the process default.
func NewHandler(st store.Store, rooms *room.Registry, verifier auth.Verifier, notifier notify.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Handler{
		store:    st,
		rooms:    rooms,
		verifier: verifier,
		notifier: notifier,
		logger:   logger.With("component", "api"),
	}
}

// Router builds the chi router for the REST surface. The websocket endpoint
// is mounted separately by the server; it authenticates via query parameter
// rather than the Authorization header.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(h.verifier))
		r.Use(auth.RequireClient())

		r.Post("/messages", h.SendMessage)
		r.Get("/messages", h.ListMessages)
		r.Post("/friends/requests", h.CreateFriendRequest)
		r.Post("/friends/accept", h.AcceptFriendRequest)
	})

	return r
}

// Health answers liveness probes, checking store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store-unavailable", "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
