/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package mirror copies build archives to S3-compatible object storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/flytam/filenamify"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"unideploy/internal/config"
	applog "unideploy/internal/log"
)

// Uploader is what the pipeline needs from a mirror.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	Key(buildName, runID, file string) string
}

// Mirror uploads into one bucket.
type Mirror struct {
	c      *minio.Client
	bucket string
	prefix string
	secure bool
}

// New connects to the configured endpoint. It does not contact the server.
func New(cfg config.MirrorConfig, accessKey, secretKey string) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("mirror endpoint and bucket must be configured")
	}
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("mirror client: %w", err)
	}
	return &Mirror{c: c, bucket: cfg.Bucket, prefix: cfg.Prefix, secure: cfg.Secure}, nil
}

// URL returns the object URL for key.
func (m *Mirror) URL(key string) string {
	u := m.c.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s", u.Scheme, u.Host, m.bucket, strings.TrimPrefix(key, "/"))
}

// Key builds the object key for a file of a run.
func (m *Mirror) Key(buildName, runID, file string) string {
	return ObjectKey(m.prefix, buildName, runID, file)
}

// Upload stores localPath under key and returns its URL.
func (m *Mirror) Upload(ctx context.Context, localPath, key string) (string, error) {
	logger := applog.WithComponent("mirror")
	found, err := m.c.BucketExists(ctx, m.bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !found {
		return "", fmt.Errorf("bucket %q doesn't exist", m.bucket)
	}
	info, err := m.c.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType(localPath)})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	url := m.URL(key)
	logger.InfoContext(ctx, "mirrored", "key", key, "size", info.Size)
	return url, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

// ObjectKey returns prefix/<build name>/<run id>/<file> with the build name made path-safe.
func ObjectKey(prefix, buildName, runID, file string) string {
	name, err := filenamify.FilenamifyV2(buildName, func(o *filenamify.Options) {
		o.Replacement = "_"
	})
	if err != nil || name == "" {
		name = "build"
	}
	name = strings.ReplaceAll(name, " ", "_")
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, name)
	if runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, filepath.Base(file))
	return path.Join(parts...)
}
