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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"unideploy/internal/domain"
)

// Client reads the shared history over HTTP.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// TokenResponse is returned by POST /api/auth/token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// NewClient creates a client; a zero timeout means 10s.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server %s %s: %s", method, u.Path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// RequestToken asks the server for a token for subject. The client's Token must be the server secret.
func (c *Client) RequestToken(ctx context.Context, subject string, ttl time.Duration) (TokenResponse, error) {
	var tr TokenResponse
	req := map[string]any{"subject": subject, "ttl_seconds": int64(ttl / time.Second)}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", req, &tr)
	return tr, err
}

// ListRuns returns the newest runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	var list []domain.Run
	p := "/api/runs"
	if limit > 0 {
		p += fmt.Sprintf("?limit=%d", limit)
	}
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetRun fetches one run with its stages.
func (c *Client) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var r domain.Run
	err := c.doJSON(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &r)
	return r, err
}
