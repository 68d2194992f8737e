// Package httpapi serves a read-only JSON view of a registry.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/modreg"
)

// View is the read side of *modreg.Registry.
type View interface {
	List() []modreg.InstanceInfo
	Instance(key string) (modreg.InstanceInfo, bool)
	Health(ctx context.Context, key string) (modreg.ModuleHealth, error)
	HealthAll(ctx context.Context) modreg.SystemHealth
	GetByCapability(name string) (any, bool)
	Providers(capability string) []string
}

// Options configures the router.
type Options struct {
	// Gatherer enables GET /metrics when set.
	Gatherer prometheus.Gatherer
	// HealthTimeout bounds health endpoints. Default: 5s.
	HealthTimeout time.Duration
	Logger        modreg.Logger
}

type handler struct {
	view    View
	timeout time.Duration
	logger  modreg.Logger
}

// NewRouter builds the chi router.
func NewRouter(view View, opts Options) chi.Router {
	h := &handler{view: view, timeout: opts.HealthTimeout, logger: opts.Logger}
	if h.timeout <= 0 {
		h.timeout = 5 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleSystemHealth)
	r.Route("/modules", func(r chi.Router) {
		r.Get("/", h.handleListModules)
		r.Get("/{key}", h.handleModule)
		r.Get("/{key}/health", h.handleModuleHealth)
	})
	r.Get("/capabilities/{name}", h.handleCapability)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *handler) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sys := h.view.HealthAll(ctx)
	h.writeJSON(w, statusCode(sys.Status), sys)
}

func (h *handler) handleListModules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"modules": h.view.List()})
}

func (h *handler) handleModule(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, ok := h.view.Instance(key)
	if !ok {
		h.writeError(w, http.StatusNotFound, "module not found: "+key)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *handler) handleModuleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	key := chi.URLParam(r, "key")
	mh, err := h.view.Health(ctx, key)
	if errors.Is(err, modreg.ErrModuleNotFound) {
		h.writeError(w, http.StatusNotFound, "module not found: "+key)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, statusCode(mh.Status), mh)
}

type capabilityResponse struct {
	Capability string   `json:"capability"`
	Available  bool     `json:"available"`
	Provider   string   `json:"provider,omitempty"`
	Providers  []string `json:"providers"`
}

func (h *handler) handleCapability(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	providers := h.view.Providers(name)
	if providers == nil {
		providers = []string{}
	}
	resp := capabilityResponse{Capability: name, Providers: providers}
	if _, ok := h.view.GetByCapability(name); ok && len(providers) > 0 {
		resp.Available = true
		resp.Provider = providers[0]
		h.writeJSON(w, http.StatusOK, resp)
		return
	}
	h.writeJSON(w, http.StatusNotFound, resp)
}

// statusCode maps health to HTTP: degraded still serves traffic.
func statusCode(s modreg.HealthStatus) int {
	if s == modreg.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && h.logger != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
