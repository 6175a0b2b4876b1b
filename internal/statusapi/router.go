/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package statusapi is the optional Status HTTP surface (SPEC_FULL.md
// §4.12): a handful of read-only chi routes over the Decision Store and the
// Event Bus. It is never the system of record — everything it serves is
// already computed and persisted by the CLI's own pipeline run.
package statusapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/eventbus"
)

// NewRouter builds the status surface's router. registry may be nil, in
// which case /metrics responds 404 — telemetry is optional (SPEC_FULL.md
// §4.13).
func NewRouter(s *store.Store, bus *eventbus.Bus, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Same-origin-only local tooling: no external browser origin ever needs
	// to reach this surface, so the allowed origin list is deliberately
	// narrow rather than "*".
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET"},
		MaxAge:         300,
	}))

	h := &handler{store: s, bus: bus}

	r.Get("/healthz", h.healthz)
	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/", h.getRun)
		r.Get("/events", h.streamEvents)
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}
