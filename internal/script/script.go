/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package script prepares the user batch file that runs after a build: it resolves
// %field arguments against the settings, previews the substituted script text and
// decides how the file is executed on the host.
package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"unideploy/internal/domain"
)

// ErrUnknownField is returned when a %name argument does not match a settings field.
var ErrUnknownField = errors.New("unknown settings field")

// ParseArguments resolves every %name argument with the settings value; other
// arguments pass through unchanged.
func ParseArguments(s *domain.BuildSettings, args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		if !strings.HasPrefix(a, "%") || len(a) == 1 {
			out[i] = a
			continue
		}
		v, ok := s.FieldValue(a[1:])
		if !ok {
			return nil, fmt.Errorf("argument %d %q: %w", i+1, a, ErrUnknownField)
		}
		out[i] = v
	}
	return out, nil
}

// Compile substitutes the parsed arguments for %1..%N in text. Values that are
// empty or cannot be resolved fall back to the raw argument.
func Compile(text string, s *domain.BuildSettings, args []string, posix bool) string {
	values := make([]string, len(args))
	for i, a := range args {
		values[i] = a
		if strings.HasPrefix(a, "%") && len(a) > 1 {
			if v, ok := s.FieldValue(a[1:]); ok && v != "" {
				values[i] = v
			}
		}
	}
	// highest index first so %1 does not eat the prefix of %10
	for i := len(values); i >= 1; i-- {
		n := strconv.Itoa(i)
		v := values[i-1]
		text = strings.ReplaceAll(text, "%"+n, v)
		if posix {
			text = strings.ReplaceAll(text, "${"+n+"}", v)
			text = strings.ReplaceAll(text, "$"+n, v)
		}
	}
	return text
}

// CompileFile reads the script at path and compiles it.
func CompileFile(path string, s *domain.BuildSettings, args []string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return Compile(string(b), s, args, IsPOSIX(path)), nil
}

// IsPOSIX reports whether path is a shell script using $N positional parameters.
func IsPOSIX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".sh")
}

// ResolveScriptPath makes a relative batch file path absolute against the project root.
func ResolveScriptPath(projectRoot, batchFile string) string {
	if batchFile == "" || filepath.IsAbs(batchFile) {
		return batchFile
	}
	return filepath.Join(projectRoot, filepath.FromSlash(batchFile))
}

// Command returns the executable and argument list used to run the script at path.
func Command(path string, args []string) (string, []string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bat", ".cmd":
		return "cmd.exe", append([]string{"/C", path}, args...)
	case ".ps1":
		return "powershell", append([]string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", path}, args...)
	case ".sh":
		return "/bin/sh", append([]string{path}, args...)
	}
	return path, append([]string(nil), args...)
}

const pushBat = `@echo off
rem Pushes a build to itch.io with butler.
rem Arguments: %%zipFile %%itchProject %%itchChannel
if "%3"=="" (
  echo usage: PushToItch.bat ^<zip^> ^<user/game^> ^<channel^>
  exit /b 1
)
butler push %1 %2:%3
`

const pushSh = `#!/bin/sh
# Pushes a build to itch.io with butler.
# Arguments: %zipFile %itchProject %itchChannel
if [ -z "$3" ]; then
  echo "usage: PushToItch.sh <zip> <user/game> <channel>" >&2
  exit 1
fi
butler push "$1" "$2:$3"
`

// DefaultPushScriptName is PushToItch.bat on Windows and PushToItch.sh elsewhere.
func DefaultPushScriptName() string {
	if runtime.GOOS == "windows" {
		return "PushToItch.bat"
	}
	return "PushToItch.sh"
}

// DefaultPushArguments are the batch arguments matching the default script.
func DefaultPushArguments() []string {
	return []string{"%zipFile", "%itchProject", "%itchChannel"}
}

// WriteDefaultPushScript creates the default push script in dir and returns its path.
// An existing file is left alone.
func WriteDefaultPushScript(dir string) (string, error) {
	name := DefaultPushScriptName()
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script dir: %w", err)
	}
	body := pushSh
	if strings.HasSuffix(name, ".bat") {
		body = strings.ReplaceAll(pushBat, "\n", "\r\n")
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		return "", fmt.Errorf("write push script: %w", err)
	}
	return path, nil
}
