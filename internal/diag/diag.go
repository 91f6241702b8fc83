// Package diag serves the diagnostics of a running boss over HTTP.
package diag

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slok/taskvisor/internal/log"
	"github.com/slok/taskvisor/internal/model"
)

// StatusProvider knows the status of the modules.
type StatusProvider interface {
	Statuses() []model.ModuleStatus
}

// RouterConfig is the configuration of the diagnostics router.
type RouterConfig struct {
	Gatherer prometheus.Gatherer
	Status   StatusProvider
	Logger   log.Logger
}

func (c *RouterConfig) defaults() error {
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.Status == nil {
		return fmt.Errorf("status provider is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "diag.Router"})
	return nil
}

type moduleStatus struct {
	Service   string `json:"service"`
	Optional  bool   `json:"optional"`
	Available bool   `json:"available"`
}

type statusResponse struct {
	Modules []moduleStatus `json:"modules"`
	Ready   bool           `json:"ready"`
}

// NewRouter returns the handler serving `/metrics`, `/healthz` and `/status`.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		statuses := cfg.Status.Statuses()
		resp := statusResponse{Modules: make([]moduleStatus, 0, len(statuses)), Ready: true}
		for _, s := range statuses {
			resp.Modules = append(resp.Modules, moduleStatus{Service: s.Service, Optional: s.Optional, Available: s.Available})
			// Missing optional modules don't block the installation.
			if !s.Available && !s.Optional {
				resp.Ready = false
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			cfg.Logger.Warningf("Could not write status response: %s", err)
		}
	})

	return r, nil
}
