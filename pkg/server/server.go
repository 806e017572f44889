// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the delegation loop over HTTP.
//
// The single inbound operation is POST /v1/messages, which runs one
// request through the supervisor and streams the result back as
// server-sent events. Completed runs are readable from the archive
// under /v1/runs, and /healthz and /metrics serve the usual
// operational endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/nestor/pkg/auth"
	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/ratelimit"
	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/store"
	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// Executor starts one delegation run. The runtime implements it with a
// fresh supervisor per request over shared dependencies.
type Executor interface {
	Execute(ctx context.Context, req supervisor.Request) (*supervisor.Execution, error)
}

// Server is the HTTP front end for the supervisor.
type Server struct {
	cfg      config.ServerConfig
	executor Executor

	sessions  session.Service
	archive   *store.Archive
	validator auth.TokenValidator
	metrics   http.Handler
	limiter   *ratelimit.Limiter

	httpServer *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithSessionService attaches conversation history storage. Requests
// carrying a session id are seeded with prior turns, and completed runs
// append the new exchange.
func WithSessionService(svc session.Service) Option {
	return func(s *Server) { s.sessions = svc }
}

// WithArchive attaches the run archive. Completed runs are recorded
// best-effort and served under /v1/runs.
func WithArchive(a *store.Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithTokenValidator enables JWT authentication using the validator and
// the server's auth configuration.
func WithTokenValidator(v auth.TokenValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithMetricsHandler mounts the handler on the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRateLimiter enforces per-client request limits on the API
// routes. Health and metrics stay unlimited.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// New builds a server around the executor. The configuration is
// defaulted and validated here so callers can pass it straight from a
// loaded file.
func New(cfg config.ServerConfig, executor Executor, opts ...Option) (*Server, error) {
	if executor == nil {
		return nil, fmt.Errorf("server requires an executor")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		executor: executor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler builds the route tree with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	if s.validator != nil && s.cfg.Auth != nil && s.cfg.Auth.IsEnabled() {
		r.Use(auth.Middleware(s.validator, s.cfg.Auth))
	}
	if s.limiter != nil {
		// After auth, so authenticated clients are limited by subject
		// rather than address.
		r.Use(ratelimit.Middleware(s.limiter, "/healthz", s.cfg.Metrics.Path))
	}

	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsEnabled() && s.metrics != nil {
		r.Get(s.cfg.Metrics.Path, s.metrics.ServeHTTP)
	}

	r.Post("/v1/messages", s.handleMessages)
	if s.archive != nil {
		r.Route("/v1/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{requestID}", s.handleGetRun)
		})
	}
	if s.sessions != nil {
		r.Delete("/v1/sessions/{sessionID}", s.handleDeleteSession)
	}

	return r
}

// Start runs the server until the context is cancelled or the listener
// fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting",
		"address", s.cfg.Address(),
		"auth", s.validator != nil,
		"metrics", s.cfg.MetricsEnabled())

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.tlsEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

func (s *Server) tlsEnabled() bool {
	return s.cfg.TLS != nil && config.BoolValue(s.cfg.TLS.Enabled, false)
}

// corsMiddleware adds CORS headers and answers preflight requests. It
// runs before auth so OPTIONS never hits the token check.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	cors := s.cfg.CORS
	if cors == nil {
		return next
	}

	methods := strings.Join(cors.AllowedMethods, ", ")
	headers := strings.Join(cors.AllowedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range cors.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		if methods != "" {
			w.Header().Set("Access-Control-Allow-Methods", methods)
		}
		if headers != "" {
			w.Header().Set("Access-Control-Allow-Headers", headers)
		}
		if config.BoolValue(cors.AllowCredentials, false) {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// Don't wrap ResponseWriter - it breaks http.Flusher for SSE
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
