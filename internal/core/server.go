// Package core is the HTTP chassis for the SLA engine. It owns the chi
// router, the cross-cutting middleware chain, the JSON response envelope,
// and request validation. Domain handlers mount themselves through
// RouteRegistrar to keep core free of handler imports.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
const defaultRequestTimeout = 29 * time.Second

// healthCheckTimeout bounds all health probes together.
const healthCheckTimeout = 2 * time.Second

// defaultRedactedHeaders lists headers masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Webhook-Secret",
}

// RouteRegistrar mounts a handler's routes under /v1.
type RouteRegistrar func(r chi.Router)

// HealthProbe is one subsystem check behind GET /health.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Server bundles the router with the dependencies every handler shares.
type Server struct {
	Logger    *slog.Logger
	Validator *Validator

	// V1RouteRegistrars are applied under /v1 by MountRoutes. Populated by
	// the application entry point so core stays handler-agnostic.
	V1RouteRegistrars []RouteRegistrar

	// HealthProbes are executed concurrently by GET /health.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer initializes the router and validator. Routes are mounted
// separately so tests can customize registration.
func NewServer(logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain, the /v1 handler groups,
// and the health endpoint. Middleware order matters: Recoverer outermost,
// then timeout, request ID, and logging.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs all registered probes concurrently under a shared
// deadline. 200 when every probe passes, 503 otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	var (
		mu         sync.Mutex
		components = make(map[string]componentStatus, len(s.HealthProbes))
		wg         sync.WaitGroup
	)

	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("probe panicked: %v", rec)
					}
				}()
				err = p.Check(ctx)
			}()

			status := componentStatus{Status: "healthy"}
			if err != nil {
				status = componentStatus{Status: "unhealthy", Message: err.Error()}
			}
			mu.Lock()
			components[p.Name()] = status
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		for _, p := range s.HealthProbes {
			if _, ok := components[p.Name()]; !ok {
				components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
			}
		}
		mu.Unlock()
	}

	overall := "healthy"
	httpStatus := http.StatusOK
	mu.Lock()
	for _, c := range components {
		if c.Status != "healthy" {
			overall = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}
	resp := healthResponse{Status: overall, Components: components}
	mu.Unlock()

	JSON(w, r, httpStatus, resp)
}
