// Package httpapi assembles the HTTP surface: participant draw routes,
// token-guarded admin routes and operational endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"secretsanta/internal/platform/metrics"
	"secretsanta/internal/platform/middleware"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/platform/httputil"
)

const requestTimeout = 30 * time.Second

// Registrar is implemented by every route group handler.
type Registrar interface {
	Register(r chi.Router)
}

// Deps are the collaborators the router mounts. Admin handlers are only
// mounted when AdminToken is set.
type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	AdminToken string
	Health     func(ctx context.Context) error

	Participant []Registrar
	Admin       []Registrar
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Latency(d.Metrics))
	r.Use(chimw.Timeout(requestTimeout))
	r.NotFound(NotFound)

	r.Get("/healthz", healthz(d.Health))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	for _, h := range d.Participant {
		h.Register(r)
	}

	if d.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(d.AdminToken, d.Logger))
			for _, h := range d.Admin {
				h.Register(r)
			}
		})
	} else if len(d.Admin) > 0 {
		d.Logger.Warn("admin routes disabled: no admin token configured")
	}
	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
					Error:            "unavailable",
					ErrorDescription: "backing store unreachable",
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NotFound keeps unmatched routes on the JSON error envelope.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
}
