package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ezywork/internal/auth"
	"ezywork/internal/config"
	"ezywork/internal/http/handler"
	mw "ezywork/internal/http/middleware"
	"ezywork/internal/logging"
	"ezywork/internal/metrics"
	"ezywork/internal/notifier"
	"ezywork/internal/presence"
	"ezywork/internal/problem"
)

type Deps struct {
	Problems *problem.Store
	Presence *presence.Service
	Hub      *notifier.Hub
	// JWT is nil when auth is disabled.
	JWT     *auth.JWT
	Metrics *metrics.Prometheus
	Log     *slog.Logger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logging.Discard()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.AccessLog(log))
	r.Use(chimw.Recoverer)

	if cors := mw.CORS(cfg); cors != nil {
		r.Use(cors)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	ph := &handler.ProblemHandler{Store: d.Problems, Log: log}
	wh := &handler.WorkerHandler{Presence: d.Presence, Hub: d.Hub, Heartbeat: cfg.StreamHeartbeat, Log: log}

	r.Route("/problems", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Post("/", ph.Create)
		r.Get("/open", ph.ListOpen)
		r.Get("/{id}", ph.Get)
		r.Get("/{id}/timeline", ph.Timeline)
		r.Put("/{id}/accept", ph.Accept)
		r.Put("/{id}/complete", ph.Complete)
		r.Put("/{id}/cancel", ph.Cancel)
	})

	r.Route("/workers/{id}", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Get("/stream", wh.Stream)
		r.Get("/presence", wh.GetPresence)
		r.Put("/presence", wh.SetPresence)
		r.Put("/skills", wh.UpdateSkills)
		r.Get("/problems", ph.Assigned)
	})

	return r
}
