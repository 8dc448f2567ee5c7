/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"unideploy/internal/config"
	"unideploy/internal/crash"
	applog "unideploy/internal/log"
	"unideploy/internal/storage"
	"unideploy/internal/version"
)

func usage() {
	fmt.Println("UniDeploy: build, zip and push Unity players")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  unideploy version                                   Show version")
	fmt.Println("  unideploy init <file> [name]                        Create a builder file")
	fmt.Println("  unideploy list [root]                               List builder files under root")
	fmt.Println("  unideploy show <builder>                            Print the settings of a builder")
	fmt.Println("  unideploy build <builder> <settings> [-deploy dir] [-keep-target]")
	fmt.Println("                                                      Build one settings entry")
	fmt.Println("  unideploy build-all <builder> [-deploy dir]         Build every settings entry")
	fmt.Println("  unideploy compile <builder> <settings>              Print the batch file with arguments substituted")
	fmt.Println("  unideploy push-script [dir]                         Write the default PushToItch script")
	fmt.Println("  unideploy unity-script [projectRoot]                Install the editor build script")
	fmt.Println("  unideploy report-pdf <report.txt> <out.pdf>         Render a text report as PDF")
	fmt.Println("  unideploy history [-limit n] [-remote] [-project dir] [id]")
	fmt.Println("                                                      List recorded runs or show one")
	fmt.Println("  unideploy itch-key set [key] | delete               Store the butler API key in the keyring")
	fmt.Println("  unideploy mirror-key set [secret] | delete          Store the mirror secret key in the keyring")
	fmt.Println("  unideploy backend-token set [token] | delete        Store the history API token in the keyring")
	fmt.Println("  unideploy backend-token issue <subject> [-ttl 1h] [-store]  Sign a token with UDEP_AUTH_SECRET")
	fmt.Println("  unideploy serve                                     Serve the shared history API")
	fmt.Println("  unideploy ui [builder]                              Open the builder panel (build with -tags fyne)")
	fmt.Println()
	fmt.Println("<builder> is a *.builder.yaml file or a directory holding exactly one.")
}

// cli carries what every command needs.
type cli struct {
	cfg    config.AppConfig
	sec    config.Secrets
	log    *slog.Logger
	handle *storage.BuilderHandle // shared with crash.Recover
}

func main() {
	applog.Init(applog.FromEnv())
	bh := &storage.BuilderHandle{}
	defer crash.Recover(bh)

	cfg, sec, err := config.Load()
	if err != nil {
		applog.WithComponent("cli").Warn("config", slog.Any("err", err))
	}
	applog.Init(applog.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, AddSource: cfg.Logging.Source, File: cfg.Logging.File})
	l := applog.WithComponent("cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) < 2 {
		usage()
		return
	}
	c := &cli{cfg: cfg, sec: sec, log: l, handle: bh}
	code := c.run(ctx, args[1], args[2:])
	if code != 0 {
		stop()
		os.Exit(code)
	}
}

func (c *cli) run(ctx context.Context, cmd string, args []string) int {
	switch cmd {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "init":
		return c.initBuilder(args)
	case "list":
		return c.list(args)
	case "show":
		return c.show(args)
	case "build":
		return c.build(ctx, args)
	case "build-all":
		return c.buildAll(ctx, args)
	case "compile":
		return c.compile(args)
	case "push-script":
		return c.pushScript(args)
	case "unity-script":
		return c.unityScript(args)
	case "report-pdf":
		return c.reportPDF(args)
	case "history":
		return c.history(ctx, args)
	case "itch-key":
		return c.secret(config.SecretButlerAPIKey, "butler API key", args)
	case "mirror-key":
		return c.secret(config.SecretMirrorKey, "mirror secret key", args)
	case "backend-token":
		if len(args) > 0 && args[0] == "issue" {
			return c.issueToken(args[1:])
		}
		return c.secret(config.SecretBackendToken, "history API token", args)
	case "serve":
		return c.serve(ctx)
	case "ui":
		return c.ui(args)
	case "help", "-h", "--help":
		usage()
		return 0
	}
	fmt.Printf("unknown command %q\n\n", cmd)
	usage()
	return 2
}
