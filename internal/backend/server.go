/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"unideploy/internal/domain"
	applog "unideploy/internal/log"
	"unideploy/internal/version"
)

// EnvAuthSecret names the HMAC secret used to sign API tokens.
const EnvAuthSecret = "UDEP_AUTH_SECRET"

// RunReader is what the HTTP API serves from.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	GetRun(ctx context.Context, id string) (domain.Run, error)
	Ping(ctx context.Context) error
}

// ServerConfig configures Serve.
type ServerConfig struct {
	Addr   string // e.g. ":8080"
	Secret string // empty reads UDEP_AUTH_SECRET
}

// Handler builds the API mux.
func Handler(runs RunReader, secret string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := runs.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db not ready"))
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String()))
	})

	// body: {"subject": "name", "ttl_seconds": 3600}; the caller presents the server secret as bearer.
	mux.HandleFunc("POST /api/auth/token", withSecret(secret, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Subject    string `json:"subject"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = json.Unmarshal(b, &req)
		tr, err := IssueToken(secret, req.Subject, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, tr)
	}))

	mux.HandleFunc("GET /api/runs", withAuth(secret, func(w http.ResponseWriter, r *http.Request, _ string) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit"))
				return
			}
			limit = n
		}
		list, err := runs.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if list == nil {
			list = []domain.Run{}
		}
		writeJSON(w, http.StatusOK, list)
	}))

	mux.HandleFunc("GET /api/runs/{id}", withAuth(secret, func(w http.ResponseWriter, r *http.Request, _ string) {
		run, err := runs.GetRun(r.Context(), r.PathValue("id"))
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case err != nil:
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, run)
		}
	}))
	return mux
}

// Serve runs the API until ctx is cancelled.
func Serve(ctx context.Context, runs RunReader, cfg ServerConfig) error {
	logger := applog.WithComponent("backend")
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	secret := cfg.Secret
	if secret == "" {
		secret = os.Getenv(EnvAuthSecret)
	}
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%s is not set", EnvAuthSecret)
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Handler(runs, secret),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("listening", "addr", cfg.Addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("stopped")
		return nil
	}
}
