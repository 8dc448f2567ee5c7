/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gojsonschema "github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"unideploy/internal/domain"
)

const (
	BuilderExt     = ".builder.yaml"
	StateDirName   = ".unideploy"
	BackupsDirName = "backups"
)

// BuilderHandle is a builder loaded from or saved to a YAML file.
type BuilderHandle struct {
	Path    string
	Builder domain.Builder
	// Recovered is set when the file was unreadable and a backup was loaded instead.
	Recovered bool
}

// Root is the directory containing the builder file.
func (h *BuilderHandle) Root() string { return filepath.Dir(h.Path) }

// BackupsDir returns the backup folder used for builder files in dir.
func BackupsDir(dir string) string { return filepath.Join(dir, StateDirName, BackupsDirName) }

//go:embed builder.schema.json
var builderSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func builderSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(builderSchemaJSON))
	})
	return schema, schemaErr
}

// ValidateBuilderYAML checks a builder document against the embedded schema.
func ValidateBuilderYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return errors.New("builder file is empty")
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert to json: %w", err)
	}
	s, err := builderSchema()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(js))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("builder does not match schema: %s", strings.Join(msgs, "; "))
}

func decodeBuilder(data []byte) (domain.Builder, error) {
	if err := ValidateBuilderYAML(data); err != nil {
		return domain.Builder{}, err
	}
	var b domain.Builder
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return domain.Builder{}, fmt.Errorf("decode builder: %w", err)
	}
	return b, nil
}

func encodeBuilder(b domain.Builder) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("marshal builder: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if err := ValidateBuilderYAML(data); err != nil {
		return nil, err
	}
	return data, nil
}

// CreateBuilder writes a new builder file at path. It fails if the file exists.
func CreateBuilder(path string, b domain.Builder) (*BuilderHandle, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("builder path is required")
	}
	if !strings.HasSuffix(path, BuilderExt) {
		path += BuilderExt
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("builder %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create builder dir: %w", err)
	}
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), BuilderExt)
	}
	h := &BuilderHandle{Path: path, Builder: b}
	if err := SaveBuilder(h); err != nil {
		return nil, err
	}
	return h, nil
}

// OpenBuilder loads the builder at path, falling back to the latest backup when the file
// cannot be read or does not validate.
func OpenBuilder(path string) (*BuilderHandle, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var b domain.Builder
		if b, err = decodeBuilder(data); err == nil {
			return &BuilderHandle{Path: path, Builder: b}, nil
		}
	}
	b, berr := openFromLatestBackup(path)
	if berr != nil {
		return nil, fmt.Errorf("open builder: %w; backup attempt: %v", err, berr)
	}
	return &BuilderHandle{Path: path, Builder: *b, Recovered: true}, nil
}

// SaveBuilder writes the handle transactionally and keeps a timestamped copy of the previous file.
func SaveBuilder(h *BuilderHandle) error {
	if h == nil || h.Path == "" {
		return errors.New("invalid builder handle")
	}
	data, err := encodeBuilder(h.Builder)
	if err != nil {
		return err
	}
	bdir := BackupsDir(h.Root())
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	base := filepath.Base(h.Path)
	if _, statErr := os.Stat(h.Path); statErr == nil {
		stamp := time.Now().Format("20060102-150405.000")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", base, stamp))
		if cerr := copyFile(h.Path, bpath); cerr != nil {
			return fmt.Errorf("backup current builder: %w", cerr)
		}
	}
	temp := filepath.Join(h.Root(), fmt.Sprintf(".%s.tmp-%d-%d", base, os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write temp builder: %w", werr)
	}
	if _, err := os.Stat(h.Path); err == nil {
		_ = os.Remove(h.Path)
	}
	if rerr := os.Rename(temp, h.Path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace builder: %w", rerr)
	}
	h.Recovered = false
	return nil
}

func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = sf.Close() }()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// openFromLatestBackup returns the newest backup of the builder at path that still decodes.
func openFromLatestBackup(path string) (*domain.Builder, error) {
	bdir := BackupsDir(filepath.Dir(path))
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	prefix := filepath.Base(path) + "."
	var candidates []string
	for _, e := range ents {
		if n := e.Name(); strings.HasPrefix(n, prefix) && strings.HasSuffix(n, ".bak") {
			candidates = append(candidates, filepath.Join(bdir, n))
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("no backups found")
	}
	sort.Strings(candidates)
	for i := len(candidates) - 1; i >= 0; i-- {
		data, err := os.ReadFile(candidates[i])
		if err != nil {
			continue
		}
		if b, err := decodeBuilder(data); err == nil {
			return &b, nil
		}
	}
	return nil, errors.New("no readable backup")
}

// AutosaveCrashCopy writes the in-memory builder next to the backups without touching the builder file.
func AutosaveCrashCopy(h *BuilderHandle) (string, error) {
	if h == nil || h.Path == "" {
		return "", errors.New("invalid builder handle")
	}
	data, err := yaml.Marshal(h.Builder)
	if err != nil {
		return "", fmt.Errorf("encode builder: %w", err)
	}
	bdir := BackupsDir(h.Root())
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	name := fmt.Sprintf("%s.crash-%s.yaml", filepath.Base(h.Path), time.Now().Format("20060102-150405"))
	path := filepath.Join(bdir, name)
	if err := writeFileSync(path, data); err != nil {
		return "", err
	}
	return path, nil
}
