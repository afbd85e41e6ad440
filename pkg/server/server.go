// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the HTTP boundary of the platform. It carries no
// business logic: requests are forwarded to the skill registry and the
// auxiliary managers, and no error ever crosses the boundary as a panic.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/zetherion/zetherion/pkg/config"
	"github.com/zetherion/zetherion/pkg/observability"
	"github.com/zetherion/zetherion/pkg/registry"
	"github.com/zetherion/zetherion/pkg/settings"
	"github.com/zetherion/zetherion/pkg/users"
)

// Server serves the skills HTTP API.
type Server struct {
	registry *registry.SkillRegistry
	users    *users.Manager
	settings *settings.Manager
	metrics  observability.Metrics

	host      string
	port      int
	apiSecret string

	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithUsers wires the RBAC manager; without it the /users routes 501.
func WithUsers(m *users.Manager) Option {
	return func(s *Server) { s.users = m }
}

// WithSettings wires the settings manager; without it the /settings routes 501.
func WithSettings(m *settings.Manager) Option {
	return func(s *Server) { s.settings = m }
}

// WithMetrics wires the metrics recorder and /metrics endpoint.
func WithMetrics(m observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(cfg config.ServerConfig, reg *registry.SkillRegistry, opts ...Option) *Server {
	s := &Server{
		registry:  reg,
		metrics:   observability.NoopMetrics{},
		host:      cfg.Host,
		port:      cfg.Port,
		apiSecret: cfg.APISecret,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the chi router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(observability.HTTPMiddleware(s.metrics))
	r.Use(requestLogger)
	r.Use(recoverer)
	r.Use(s.authMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/handle", s.handleRequest)
	r.Post("/heartbeat", s.handleHeartbeat)
	r.Get("/skills", s.handleListSkills)
	r.Get("/skills/{name}", s.handleGetSkill)
	r.Get("/status", s.handleStatus)
	r.Get("/prompt-fragments", s.handlePromptFragments)
	r.Get("/intents", s.handleIntents)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleAssignRole)
		r.Get("/audit", s.handleUserAudit)
		r.Get("/{id}", s.handleGetUser)
		r.Patch("/{id}", s.handlePatchUser)
		r.Delete("/{id}", s.handleDeleteUser)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/{namespace}", s.handleListSettings)
		r.Get("/{namespace}/{key}", s.handleGetSetting)
		r.Put("/{namespace}/{key}", s.handlePutSetting)
		r.Delete("/{namespace}/{key}", s.handleDeleteSetting)
	})

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/schema", s.handleSchema)

	return r
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Skills server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleSchema serves the JSON schema of the config document.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema := jsonschema.Reflect(&config.Config{})
	writeJSON(w, http.StatusOK, schema)
}
