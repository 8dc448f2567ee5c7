/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration stored as YAML in the user config directory.
// Environment variables override it at runtime and are never written back.
// Secrets (butler API key, mirror secret, backend token) live in the OS keyring.

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	DeployPath     string `yaml:"deploy_path"` // used when neither the builder nor the CLI names one
}

type UnityConfig struct {
	EditorPath    string `yaml:"editor_path"`
	ProjectPath   string `yaml:"project_path"`
	BuildMethod   string `yaml:"build_method"`
	TimeoutMin    int    `yaml:"timeout_min"`
	DefaultTarget string `yaml:"default_target"`
}

type ButlerConfig struct {
	Path      string `yaml:"path"`
	DryRun    bool   `yaml:"dry_run"`
	IfChanged bool   `yaml:"if_changed"`
}

type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	Secure    bool   `yaml:"secure"`
	// Secret key is kept in the keyring.
}

type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type BackendConfig struct {
	Addr      string `yaml:"addr"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Unity         UnityConfig   `yaml:"unity"`
	Butler        ButlerConfig  `yaml:"butler"`
	Mirror        MirrorConfig  `yaml:"mirror"`
	History       HistoryConfig `yaml:"history"`
	Backend       BackendConfig `yaml:"backend"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Secrets are the keyring-held values returned next to the config.
type Secrets struct {
	ButlerAPIKey string
	MirrorSecret string
	BackendToken string
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Unity:         UnityConfig{BuildMethod: "UniDeploy.BatchBuild.Build", TimeoutMin: 120, DefaultTarget: "StandaloneWindows64"},
		Butler:        ButlerConfig{Path: "butler"},
		Mirror:        MirrorConfig{Prefix: "builds", Secure: true},
		History:       HistoryConfig{Enabled: true},
		Backend:       BackendConfig{Addr: ":8080", BaseURL: "http://localhost:8080", TimeoutMs: 15000},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath     = "UDEP_CONFIG"
	EnvTelemetryOptIn = "UDEP_TELEMETRY_OPT_IN"
	EnvDeployPath     = "UDEP_DEPLOY_PATH"
	EnvUnityPath      = "UDEP_UNITY_PATH"
	EnvProjectPath    = "UDEP_PROJECT_PATH"
	EnvBuildMethod    = "UDEP_BUILD_METHOD"
	EnvUnityTimeout   = "UDEP_UNITY_TIMEOUT_MIN"
	EnvButlerPath     = "UDEP_BUTLER_PATH"
	EnvButlerDryRun   = "UDEP_BUTLER_DRY_RUN"
	EnvButlerAPIKey   = "BUTLER_API_KEY"
	EnvMirrorEndpoint = "UDEP_MIRROR_ENDPOINT"
	EnvMirrorBucket   = "UDEP_MIRROR_BUCKET"
	EnvMirrorAccess   = "UDEP_MIRROR_ACCESS_KEY"
	EnvMirrorSecret   = "UDEP_MIRROR_SECRET_KEY"
	EnvPostgresDSN    = "UDEP_PG_DSN"
	EnvBackendURL     = "UDEP_BACKEND_URL"
	// logging
	EnvLogLevel  = "UDEP_LOG_LEVEL"
	EnvLogFormat = "UDEP_LOG_FORMAT"
	EnvLogSource = "UDEP_LOG_SOURCE"
	EnvLogFile   = "UDEP_LOG_FILE"
)

// Keyring service and entry names.
const (
	keyringService = "UniDeploy"

	SecretButlerAPIKey = "butler_api_key"
	SecretMirrorKey    = "mirror_secret_key"
	SecretBackendToken = "backend_token"
)

// tokenStore abstracts the keyring so tests can stub it.
var tokenStore TokenStore = &osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring forwards to keyringGet/Set/Delete, which are provided by
// keyring_real.go (go-keyring) or keyring_stub.go (-tags nokeyring).
type osKeyring struct{}

func (k *osKeyring) Get(service, key string) (string, error) { return keyringGet(service, key) }
func (k *osKeyring) Set(service, key, value string) error   { return keyringSet(service, key, value) }
func (k *osKeyring) Delete(service, key string) error        { return keyringDelete(service, key) }

// ConfigPath returns the per-user config file path. UDEP_CONFIG wins when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "UniDeploy")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "UniDeploy")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "unideploy")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "unideploy")
		}
	}
	if base == "" || base == "UniDeploy" || base == "unideploy" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the config file (if present) over the defaults, applies env overrides
// and collects secrets from the keyring (env BUTLER_API_KEY and UDEP_MIRROR_SECRET_KEY win).
// A malformed file is reported as an error together with the usable defaults.
func Load() (AppConfig, Secrets, error) {
	cfg := Defaults()
	var sec Secrets
	path, err := ConfigPath()
	if err != nil {
		return cfg, sec, err
	}
	var parseErr error
	if data, rerr := os.ReadFile(path); rerr == nil {
		var fileCfg AppConfig
		if uerr := yaml.Unmarshal(data, &fileCfg); uerr != nil {
			parseErr = fmt.Errorf("parse %s: %w", path, uerr)
		} else {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)

	sec.ButlerAPIKey, _ = tokenStore.Get(keyringService, SecretButlerAPIKey)
	sec.MirrorSecret, _ = tokenStore.Get(keyringService, SecretMirrorKey)
	sec.BackendToken, _ = tokenStore.Get(keyringService, SecretBackendToken)
	if v := strings.TrimSpace(os.Getenv(EnvButlerAPIKey)); v != "" {
		sec.ButlerAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvMirrorSecret)); v != "" {
		sec.MirrorSecret = v
	}
	return cfg, sec, parseErr
}

// Save writes the config YAML. Secrets are stored separately with SetSecret.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// SetSecret stores one of the Secret* entries in the keyring.
func SetSecret(name, value string) error {
	if err := checkSecretName(name); err != nil {
		return err
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret value is empty")
	}
	return tokenStore.Set(keyringService, name, value)
}

// DeleteSecret removes one of the Secret* entries from the keyring.
func DeleteSecret(name string) error {
	if err := checkSecretName(name); err != nil {
		return err
	}
	return tokenStore.Delete(keyringService, name)
}

func checkSecretName(name string) error {
	switch name {
	case SecretButlerAPIKey, SecretMirrorKey, SecretBackendToken:
		return nil
	}
	return fmt.Errorf("unknown secret %q", name)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	setStr(&dst.General.DeployPath, src.General.DeployPath)

	setStr(&dst.Unity.EditorPath, src.Unity.EditorPath)
	setStr(&dst.Unity.ProjectPath, src.Unity.ProjectPath)
	setStr(&dst.Unity.BuildMethod, src.Unity.BuildMethod)
	setStr(&dst.Unity.DefaultTarget, src.Unity.DefaultTarget)
	if src.Unity.TimeoutMin > 0 {
		dst.Unity.TimeoutMin = src.Unity.TimeoutMin
	}

	setStr(&dst.Butler.Path, src.Butler.Path)
	dst.Butler.DryRun = src.Butler.DryRun
	dst.Butler.IfChanged = src.Butler.IfChanged

	setStr(&dst.Mirror.Endpoint, src.Mirror.Endpoint)
	setStr(&dst.Mirror.Bucket, src.Mirror.Bucket)
	setStr(&dst.Mirror.Prefix, src.Mirror.Prefix)
	setStr(&dst.Mirror.AccessKey, src.Mirror.AccessKey)
	// secure defaults to true; only an explicit file section can turn it off
	if src.Mirror.Endpoint != "" {
		dst.Mirror.Secure = src.Mirror.Secure
	}

	dst.History.Enabled = src.History.Enabled
	setStr(&dst.History.PostgresDSN, src.History.PostgresDSN)

	setStr(&dst.Backend.Addr, src.Backend.Addr)
	setStr(&dst.Backend.BaseURL, src.Backend.BaseURL)
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}

	if s := strings.TrimSpace(src.Logging.Level); s != "" {
		dst.Logging.Level = strings.ToLower(s)
	}
	if s := strings.TrimSpace(src.Logging.Format); s != "" {
		dst.Logging.Format = strings.ToLower(s)
	}
	dst.Logging.Source = src.Logging.Source
	setStr(&dst.Logging.File, src.Logging.File)
}

func setStr(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	env := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }
	if v := env(EnvTelemetryOptIn); v != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	if v := env(EnvDeployPath); v != "" {
		cfg.General.DeployPath = v
	}
	if v := env(EnvUnityPath); v != "" {
		cfg.Unity.EditorPath = v
	}
	if v := env(EnvProjectPath); v != "" {
		cfg.Unity.ProjectPath = v
	}
	if v := env(EnvBuildMethod); v != "" {
		cfg.Unity.BuildMethod = v
	}
	if v := env(EnvUnityTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Unity.TimeoutMin = n
		}
	}
	if v := env(EnvButlerPath); v != "" {
		cfg.Butler.Path = v
	}
	if v := env(EnvButlerDryRun); v != "" {
		cfg.Butler.DryRun = parseBool(v)
	}
	if v := env(EnvMirrorEndpoint); v != "" {
		cfg.Mirror.Endpoint = v
	}
	if v := env(EnvMirrorBucket); v != "" {
		cfg.Mirror.Bucket = v
	}
	if v := env(EnvMirrorAccess); v != "" {
		cfg.Mirror.AccessKey = v
	}
	if v := env(EnvPostgresDSN); v != "" {
		cfg.History.PostgresDSN = v
	}
	if v := env(EnvBackendURL); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := env(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := env(EnvLogFormat); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := env(EnvLogSource); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := env(EnvLogFile); v != "" {
		cfg.Logging.File = v
	}
}

var envByKey = map[string]string{
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"general.deploy_path":      EnvDeployPath,
	"unity.editor_path":        EnvUnityPath,
	"unity.project_path":       EnvProjectPath,
	"unity.build_method":       EnvBuildMethod,
	"unity.timeout_min":        EnvUnityTimeout,
	"butler.path":              EnvButlerPath,
	"butler.dry_run":           EnvButlerDryRun,
	"mirror.endpoint":          EnvMirrorEndpoint,
	"mirror.bucket":            EnvMirrorBucket,
	"mirror.access_key":        EnvMirrorAccess,
	"history.postgres_dsn":     EnvPostgresDSN,
	"backend.base_url":         EnvBackendURL,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the dotted config key is currently overridden.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envByKey[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// UnityTimeout returns the editor build timeout.
func (u UnityConfig) UnityTimeout() time.Duration {
	if u.TimeoutMin <= 0 {
		return time.Duration(Defaults().Unity.TimeoutMin) * time.Minute
	}
	return time.Duration(u.TimeoutMin) * time.Minute
}

// Timeout returns the HTTP client timeout for the history backend.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
