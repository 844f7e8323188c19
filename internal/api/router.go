package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"livefleet/internal/control"
	"livefleet/internal/deploy"
	"livefleet/internal/fleet"
	"livefleet/internal/observability/logging"
	"livefleet/internal/observability/metrics"
	"livefleet/internal/storage"
)

// FleetLoader returns the current fleet description.
type FleetLoader func() (fleet.Fleet, error)

// HealthChecker probes a remote dependency.
type HealthChecker interface {
	HealthChecks(ctx context.Context) []control.HealthStatus
}

// Handler holds the collaborators the routes delegate to.
type Handler struct {
	Deployer *deploy.Deployer
	Fleet    FleetLoader
	Store    storage.Repository
	Control  HealthChecker
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string
}

// NewRouter builds the admin router.
func NewRouter(h *Handler) http.Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	h.Metrics = metrics.OrDefault(h.Metrics)

	r := chi.NewRouter()
	r.Use(logging.RequestID)
	r.Use(securityHeaders)
	r.Use(logging.RequestLogger(logging.RequestLoggerConfig{Logger: h.Logger}))
	r.Use(metrics.Middleware(h.Metrics))

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Post("/fleet/deploy", h.deployFleet)
		r.Post("/fleet/cleanup", h.cleanupFleet)
		r.Route("/channels/{name}", func(r chi.Router) {
			r.Get("/topology", h.channelTopology)
			r.Get("/stack", h.channelStack)
			r.Post("/start", h.channelRunState)
			r.Post("/stop", h.channelRunState)
		})
	})
	return r
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case fleet.IsConfigurationError(err), fleet.IsReferenceNotFound(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, deploy.ErrChannelNotDeployed), errors.Is(err, deploy.ErrChannelNotDeclared), errors.Is(err, storage.ErrStackNotFound):
		return http.StatusNotFound
	case control.IsTransient(err):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
