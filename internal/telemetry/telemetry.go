/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"unideploy/internal/domain"
	applog "unideploy/internal/log"
	"unideploy/internal/version"
)

// Env vars read by FromEnv.
const (
	EnvOptIn     = "UDEP_TELEMETRY_OPT_IN"
	EnvEventsURL = "UDEP_TELEMETRY_URL"
	EnvCrashURL  = "UDEP_CRASH_UPLOAD_URL"
	EnvTimeoutMs = "UDEP_TELEMETRY_TIMEOUT_MS"
	EnvDebug     = "UDEP_TELEMETRY_DEBUG"
)

// EventDeployFinished is sent once per finished settings build.
const EventDeployFinished = "deploy_finished"

// Config holds telemetry settings. Telemetry is opt-in and off by default;
// without URLs events are dropped even when opted in.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv(EnvOptIn)),
		EventsURL:    strings.TrimSpace(os.Getenv(EnvEventsURL)),
		CrashURL:     strings.TrimSpace(os.Getenv(EnvCrashURL)),
		Timeout:      defaultTimeout,
		DebugLogging: os.Getenv(EnvDebug) != "",
	}
	if ms := strings.TrimSpace(os.Getenv(EnvTimeoutMs)); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// Sink is what the deploy pipeline reports to.
type Sink interface {
	Event(name string, props map[string]any)
}

// Client sends events from a bounded queue on a background goroutine and
// drops them on any error.
type Client struct {
	cfg      Config
	log      *slog.Logger
	hc       *http.Client
	events   chan event
	inFlight atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
}

// event is encoded flat: props first, then the fixed keys, so props cannot override them.
type event struct {
	Name  string
	At    time.Time
	Props map[string]any
}

func (e event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Props)+5)
	for k, v := range e.Props {
		m[k] = v
	}
	m["name"] = e.Name
	m["ts"] = e.At.UTC().Format(time.RFC3339Nano)
	m["version"] = version.String()
	m["os"] = runtime.GOOS
	m["arch"] = runtime.GOARCH
	return json.Marshal(m)
}

const (
	queueSize     = 64
	flushWait     = 2 * time.Second
	defaultTimeout = 1500 * time.Millisecond
)

var (
	defaultClient *Client
	defaultOnce   sync.Once
)

// InitDefault installs a default client from env on first use.
func InitDefault() {
	defaultOnce.Do(func() {
		if defaultClient == nil {
			defaultClient = New(FromEnv())
		}
	})
}

// NewDefault replaces the default client.
func NewDefault(cfg Config) { defaultClient = New(cfg) }

// Default returns the package client.
func Default() *Client {
	InitDefault()
	return defaultClient
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		hc:     &http.Client{},
		events: make(chan event, queueSize),
		stop:   make(chan struct{}),
	}
	go c.run()
	return c
}

// Enabled reports opt-in with an events endpoint configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

func Enabled() bool { return Default().Enabled() }

// Event queues an event. Props must not carry paths or names. A full queue drops it.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	c.inFlight.Add(1)
	select {
	case c.events <- event{Name: name, At: time.Now(), Props: props}:
	default:
		c.inFlight.Add(-1)
	}
}

func Event(name string, props map[string]any) { Default().Event(name, props) }

// DeployProps are the anonymous fields of a deploy_finished event.
func DeployProps(r domain.Run) map[string]any {
	failed := ""
	for _, st := range r.Stages {
		if st.Status == domain.StageFailed {
			failed = st.Name
			break
		}
	}
	return map[string]any{
		"target":       string(r.BuildTarget),
		"group":        string(r.BuildTarget.Group()),
		"success":      r.Success,
		"failed_stage": failed,
		"duration_s":   int64(r.Duration() / time.Second),
		"zipped":       r.ZipFile != "",
	}
}

// DeployFinished queues a deploy_finished event for r.
func (c *Client) DeployFinished(r domain.Run) { c.Event(EventDeployFinished, DeployProps(r)) }

// Flush waits until queued and in-flight events are sent, ctx is done or two seconds pass.
func (c *Client) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.NewTimer(flushWait)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for c.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// Close stops the sender. Queued events are dropped; call Flush first to keep them.
func (c *Client) Close() {
	if c != nil {
		c.stopOnce.Do(func() { close(c.stop) })
	}
}

func (c *Client) run() {
	for {
		select {
		case <-c.stop:
			return
		case ev := <-c.events:
			c.deliver(ev)
			c.inFlight.Add(-1)
		}
	}
}

func (c *Client) deliver(ev event) {
	body, err := json.Marshal(ev)
	if err == nil {
		err = c.post(c.cfg.EventsURL, "application/json", body)
	}
	if c.cfg.DebugLogging {
		if err != nil {
			c.log.Debug("event dropped", slog.String("event", ev.Name), slog.Any("err", err))
		} else {
			c.log.Debug("event sent", slog.String("event", ev.Name))
		}
	}
}

func (c *Client) post(url, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "unideploy/"+version.String())
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint returned %s", resp.Status)
	}
	return nil
}

// UploadCrash posts a crash report when opted in and a crash URL is set.
// It blocks for at most the configured timeout since the process exits right after.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	if err := c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", report); err != nil && c.cfg.DebugLogging {
		c.log.Debug("crash upload failed", slog.Any("err", err))
	}
}

func UploadCrash(report []byte) { Default().UploadCrash(report) }
