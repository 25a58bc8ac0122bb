// Package server assembles the relay's HTTP handler.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/pixrelay/internal/api"
	"github.com/gaspardpetit/pixrelay/internal/config"
	"github.com/gaspardpetit/pixrelay/internal/metrics"
)

// New constructs the HTTP handler for the server. Collectors are registered
// on a fresh registry that also becomes the process default.
func New(cfg config.ServerConfig, gen api.Generator) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	preg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = preg
	prometheus.DefaultGatherer = preg
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(preg)

	state := &api.StateHandler{EngineURL: gen.EngineURL()}

	r.Get("/healthz", api.Healthz)
	r.Route("/api", func(ar chi.Router) {
		ar.Group(func(g chi.Router) {
			g.Use(api.APIKeyMiddleware(cfg.APIKey))
			g.Post("/generate", api.GenerateHandler(gen, cfg.RequestTimeout))
			g.Get("/state", state.GetState)
			g.Get("/state/stream", state.GetStateStream)
		})
	})

	if cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port) {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}

	return r
}
