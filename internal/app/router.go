package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clubroster/clubroster/internal/club"
	lifecyclehttp "github.com/clubroster/clubroster/internal/lifecycle/http"
	"github.com/clubroster/clubroster/internal/members"
	"github.com/clubroster/clubroster/internal/observability"
	"github.com/clubroster/clubroster/jobs"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	ClubHandler      *club.Handler
	MembersHandler   *members.Handler
	LifecycleHandler *lifecyclehttp.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	Checks           map[string]HealthChecker
}

// NewRouter constructs the chi.Router with clubroster defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.Logger, params.Checks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.ClubHandler != nil {
			params.ClubHandler.MountRoutes(r)
		}
		if params.MembersHandler != nil {
			params.MembersHandler.MountRoutes(r)
		}
		if params.LifecycleHandler != nil {
			params.LifecycleHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			params.JobHandler.MountRoutes(r)
		}
	})

	return r
}

func healthHandler(logger *slog.Logger, checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				if logger != nil {
					logger.Warn("health check failed", slog.String("component", name), slog.Any("error", err))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
