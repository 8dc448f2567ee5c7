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
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"unideploy/internal/backend"
	"unideploy/internal/config"
	"unideploy/internal/domain"
	"unideploy/internal/engine"
	"unideploy/internal/pipeline"
	"unideploy/internal/report"
	"unideploy/internal/runner"
	"unideploy/internal/script"
	"unideploy/internal/storage"
	"unideploy/internal/ui"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
)

// parseInterleaved parses flags that may appear before, between or after positional arguments.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

// findProjectRoot walks up from dir to the folder holding ProjectSettings/ProjectVersion.txt.
func findProjectRoot(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	for d := abs; ; {
		if _, err := os.Stat(filepath.Join(d, "ProjectSettings", "ProjectVersion.txt")); err == nil {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return abs
		}
		d = parent
	}
}

func (c *cli) projectRoot(near string) string {
	if c.cfg.Unity.ProjectPath != "" {
		return c.cfg.Unity.ProjectPath
	}
	return findProjectRoot(near)
}

// resolveDeployPath picks the command line value, then the builder's, then the configured one.
func resolveDeployPath(flagValue string, b *domain.Builder, cfg config.AppConfig) string {
	for _, v := range []string{flagValue, b.DeployPath, cfg.General.DeployPath} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (c *cli) fail(msg string, err error) int {
	c.log.Error(msg, slog.Any("err", err))
	fmt.Fprintf(os.Stderr, "%s %s: %v\n", failColor.Sprint("Error:"), msg, err)
	return 1
}

// resolveBuilder turns a directory argument into its single builder file.
func resolveBuilder(arg string) (string, error) {
	fi, err := os.Stat(arg)
	if err != nil || !fi.IsDir() {
		return arg, nil
	}
	paths, err := storage.FindBuilders(arg)
	if err != nil {
		return "", err
	}
	switch len(paths) {
	case 0:
		return "", fmt.Errorf("no builder files under %s; create one with: unideploy init <file>", arg)
	case 1:
		return paths[0], nil
	}
	return "", fmt.Errorf("several builder files under %s, name one of:\n  %s", arg, strings.Join(paths, "\n  "))
}

func (c *cli) openBuilder(arg string) (*storage.BuilderHandle, error) {
	path, err := resolveBuilder(arg)
	if err != nil {
		return nil, err
	}
	h, err := storage.OpenBuilder(path)
	if err != nil {
		return nil, err
	}
	*c.handle = *h
	if h.Recovered {
		warnColor.Fprintf(os.Stderr, "%s was unreadable; loaded the latest backup instead\n", path)
	}
	return c.handle, nil
}

func (c *cli) findSettings(h *storage.BuilderHandle, name string) (int, error) {
	i := h.Builder.Find(name)
	if i >= 0 {
		return i, nil
	}
	var names []string
	for _, s := range h.Builder.Settings {
		names = append(names, s.Name)
	}
	return -1, fmt.Errorf("no settings %q in %s (have: %s)", name, h.Builder.Name, strings.Join(names, ", "))
}

// progressPrinter prints a line for each process and then every 15 seconds while it runs.
func progressPrinter(w io.Writer) runner.ProgressFunc {
	var name string
	var next time.Duration
	return func(p runner.Progress) bool {
		if p.Name != name {
			name, next = p.Name, 0
		}
		if p.Elapsed >= next {
			fmt.Fprintf(w, "  %s: %s (%s)\n", p.Name, p.Status, p.Elapsed.Truncate(time.Second))
			next += 15 * time.Second
		}
		return true
	}
}

func (c *cli) newSetup(ctx context.Context, h *storage.BuilderHandle) (*pipeline.Setup, error) {
	s, err := pipeline.NewSetup(ctx, c.cfg, c.sec, c.projectRoot(h.Root()))
	if err != nil {
		return nil, err
	}
	s.Deployer.Builder = h.Builder.Name
	s.SetProgress(progressPrinter(os.Stderr))
	return s, nil
}

func printSummary(w io.Writer, results []pipeline.Result) {
	for _, r := range results {
		if r.Success {
			okColor.Fprint(w, "  OK    ")
		} else {
			failColor.Fprint(w, "  FAIL  ")
		}
		line := r.Settings
		if f := r.Failed(); f != "" {
			line += "  (" + f + " failed)"
		}
		if r.ZipFile != "" {
			if fi, err := os.Stat(r.ZipFile); err == nil {
				line += "  " + r.ZipFile + " " + humanize.Bytes(uint64(fi.Size()))
			}
		}
		fmt.Fprintln(w, line)
	}
}

func (c *cli) initBuilder(args []string) int {
	if len(args) < 1 {
		fmt.Println("init requires <file>")
		usage()
		return 2
	}
	name := strings.TrimSuffix(filepath.Base(args[0]), storage.BuilderExt)
	if len(args) > 1 {
		name = args[1]
	}
	h, err := storage.CreateBuilder(args[0], domain.NewBuilder(name))
	if err != nil {
		return c.fail("init failed", err)
	}
	*c.handle = *h
	fmt.Println("Created builder", h.Path)
	return 0
}

func (c *cli) list(args []string) int {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	paths, err := storage.FindBuilders(root)
	if err != nil {
		return c.fail("list failed", err)
	}
	if len(paths) == 0 {
		fmt.Println("No builder files found. Create one with: unideploy init <file>")
		return 0
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return 0
}

func (c *cli) show(args []string) int {
	if len(args) < 1 {
		fmt.Println("show requires <builder>")
		return 2
	}
	h, err := c.openBuilder(args[0])
	if err != nil {
		return c.fail("open failed", err)
	}
	b := h.Builder
	fmt.Printf("Builder: %s\n", b.Name)
	fmt.Printf("Deploy path: %s\n", resolveDeployPath("", &b, c.cfg))
	fmt.Printf("Keep current build target: %t\nAutomatically save report: %t\n", b.KeepCurrentBuildTarget, b.AutomaticallySaveReport)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nNAME\tTARGET\tDIRECTORY\tZIP\tSCRIPT\tITCH\tSTATUS")
	for i := range b.Settings {
		s := &b.Settings[i]
		status := okColor.Sprint("valid")
		if err := s.Validate(); err != nil {
			status = failColor.Sprint(strings.ReplaceAll(err.Error(), "\n", "; "))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n", s.Name, s.BuildTarget, s.Directory, s.CreateZipFile, s.BatchFile, s.Itch.Target(), status)
	}
	_ = tw.Flush()
	if err := b.Validate(); err != nil {
		return 1
	}
	return 0
}

func (c *cli) build(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	deploy := fs.String("deploy", "", "deploy path (overrides builder and config)")
	keep := fs.Bool("keep-target", false, "switch back to the active build target afterwards")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return 2
	}
	if len(pos) < 2 {
		fmt.Println("build requires <builder> and <settings>")
		return 2
	}
	h, err := c.openBuilder(pos[0])
	if err != nil {
		return c.fail("open failed", err)
	}
	i, err := c.findSettings(h, pos[1])
	if err != nil {
		return c.fail("build failed", err)
	}
	dp := resolveDeployPath(*deploy, &h.Builder, c.cfg)
	if dp == "" {
		fmt.Println("No deploy path: pass -deploy, set deployPath in the builder or general.deploy_path in the config.")
		return 2
	}
	setup, err := c.newSetup(ctx, h)
	if err != nil {
		return c.fail("setup failed", err)
	}
	defer func() { _ = setup.Close() }()

	s := &h.Builder.Settings[i]
	res := setup.Deployer.Build(ctx, s, dp, *keep || h.Builder.KeepCurrentBuildTarget || s.KeepCurrentBuildTarget)
	if err := storage.SaveBuilder(h); err != nil {
		c.log.Warn("save builder failed", slog.Any("err", err))
	}
	fmt.Println(strings.TrimPrefix(res.Report, "\n"))
	fmt.Println()
	printSummary(os.Stdout, []pipeline.Result{res})
	if !res.Success {
		return 1
	}
	return 0
}

func (c *cli) buildAll(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("build-all", flag.ContinueOnError)
	deploy := fs.String("deploy", "", "deploy path (overrides builder and config)")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return 2
	}
	if len(pos) < 1 {
		fmt.Println("build-all requires <builder>")
		return 2
	}
	h, err := c.openBuilder(pos[0])
	if err != nil {
		return c.fail("open failed", err)
	}
	dp := resolveDeployPath(*deploy, &h.Builder, c.cfg)
	if dp == "" {
		fmt.Println("No deploy path: pass -deploy, set deployPath in the builder or general.deploy_path in the config.")
		return 2
	}
	setup, err := c.newSetup(ctx, h)
	if err != nil {
		return c.fail("setup failed", err)
	}
	defer func() { _ = setup.Close() }()

	out := setup.Deployer.BuildAll(ctx, &h.Builder, dp)
	if err := storage.SaveBuilder(h); err != nil {
		c.log.Warn("save builder failed", slog.Any("err", err))
	}
	fmt.Println(strings.TrimPrefix(out.Report, "\n"))
	fmt.Println()
	printSummary(os.Stdout, out.Results)
	if ctx.Err() != nil {
		warnColor.Println("Cancelled.")
	}
	if !out.Success {
		return 1
	}
	return 0
}

func (c *cli) compile(args []string) int {
	if len(args) < 2 {
		fmt.Println("compile requires <builder> and <settings>")
		return 2
	}
	h, err := c.openBuilder(args[0])
	if err != nil {
		return c.fail("open failed", err)
	}
	i, err := c.findSettings(h, args[1])
	if err != nil {
		return c.fail("compile failed", err)
	}
	s := &h.Builder.Settings[i]
	if s.BatchFile == "" {
		fmt.Println("Settings", s.Name, "has no batch file.")
		return 2
	}
	text, err := script.CompileFile(script.ResolveScriptPath(c.projectRoot(h.Root()), s.BatchFile), s, s.BatchArguments)
	if err != nil {
		return c.fail("compile failed", err)
	}
	fmt.Print(text)
	return 0
}

func (c *cli) pushScript(args []string) int {
	dir := c.projectRoot(".")
	if len(args) > 0 {
		dir = args[0]
	}
	path, err := script.WriteDefaultPushScript(dir)
	if err != nil {
		return c.fail("push-script failed", err)
	}
	fmt.Println("Push script:", path)
	fmt.Println("Batch arguments:", strings.Join(script.DefaultPushArguments(), " "))
	return 0
}

func (c *cli) unityScript(args []string) int {
	root := c.projectRoot(".")
	if len(args) > 0 {
		root = args[0]
	}
	path, err := engine.InstallScript(root)
	if err != nil {
		return c.fail("unity-script failed", err)
	}
	fmt.Println("Installed", path)
	fmt.Println("Build method:", engine.DefaultBuildMethod)
	return 0
}

func (c *cli) reportPDF(args []string) int {
	if len(args) < 2 {
		fmt.Println("report-pdf requires <report.txt> and <out.pdf>")
		return 2
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return c.fail("read report", err)
	}
	title := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	if err := report.ExportPDF(string(data), title, args[1]); err != nil {
		return c.fail("export failed", err)
	}
	fmt.Println("Wrote", args[1])
	return 0
}

// runSource is the local history or the remote API.
type runSource interface {
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	GetRun(ctx context.Context, id string) (domain.Run, error)
}

func (c *cli) history(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of runs to list")
	remote := fs.Bool("remote", false, "read the shared history API instead of the local file")
	project := fs.String("project", "", "project root of the local history")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return 2
	}

	var src runSource
	if *remote {
		src = backend.NewClient(c.cfg.Backend.BaseURL, c.sec.BackendToken, c.cfg.Backend.Timeout())
	} else {
		root := *project
		if root == "" {
			root = c.projectRoot(".")
		}
		h, err := storage.OpenHistory(root)
		if err != nil {
			return c.fail("open history", err)
		}
		defer func() { _ = h.Close() }()
		src = h
	}

	if len(pos) > 0 {
		r, err := src.GetRun(ctx, pos[0])
		if err != nil {
			return c.fail("get run", err)
		}
		printRun(os.Stdout, r)
		return 0
	}
	runs, err := src.ListRuns(ctx, *limit)
	if err != nil {
		return c.fail("list runs", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBUILDER\tSETTINGS\tTARGET\tRESULT\tSTARTED\tTOOK\tZIP")
	for _, r := range runs {
		res := okColor.Sprint("ok")
		if !r.Success {
			res = failColor.Sprint("failed")
		}
		zip := "-"
		if r.ZipBytes > 0 {
			zip = humanize.Bytes(uint64(r.ZipBytes))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Builder, r.Settings, r.BuildTarget, res,
			humanize.Time(r.StartedAt), r.Duration().Truncate(time.Second), zip)
	}
	_ = tw.Flush()
	return 0
}

func printRun(w io.Writer, r domain.Run) {
	fmt.Fprintf(w, "Run %s: %s / %s (%s)\n", r.ID, r.Builder, r.Settings, r.BuildTarget)
	fmt.Fprintf(w, "Started %s, took %s\n", r.StartedAt.Local().Format(report.TimeLayout), r.Duration().Truncate(time.Second))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, st := range r.Stages {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", st.Name, st.Status, st.Duration.Truncate(time.Millisecond), st.Detail)
	}
	_ = tw.Flush()
	if r.Report != "" {
		fmt.Fprintln(w, strings.TrimPrefix(r.Report, "\n"))
	}
}

// readSecret takes the value from args or the first line of in.
func readSecret(args []string, in io.Reader) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return "", errors.New("no value given")
	}
	return line, nil
}

func (c *cli) secret(name, label string, args []string) int {
	if len(args) < 1 {
		fmt.Printf("usage: set [value] | delete (%s)\n", label)
		return 2
	}
	switch args[0] {
	case "set":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Enter the %s: ", label)
		}
		v, err := readSecret(args[1:], os.Stdin)
		if err != nil {
			return c.fail("read "+label, err)
		}
		if err := config.SetSecret(name, v); err != nil {
			return c.fail("store "+label, err)
		}
		okColor.Printf("Stored the %s in the OS keyring.\n", label)
	case "delete":
		if err := config.DeleteSecret(name); err != nil {
			return c.fail("delete "+label, err)
		}
		fmt.Printf("Deleted the %s.\n", label)
	default:
		fmt.Printf("unknown action %q\n", args[0])
		return 2
	}
	return 0
}

// issueToken signs a history API token locally with the server secret.
func (c *cli) issueToken(args []string) int {
	fs := flag.NewFlagSet("backend-token issue", flag.ContinueOnError)
	ttl := fs.Duration("ttl", time.Hour, "token lifetime, at most 24h")
	store := fs.Bool("store", false, "store the token in the OS keyring")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return 2
	}
	if len(pos) < 1 {
		fmt.Println("backend-token issue requires <subject>")
		return 2
	}
	tr, err := backend.IssueToken(os.Getenv(backend.EnvAuthSecret), pos[0], *ttl)
	if err != nil {
		return c.fail("issue token", err)
	}
	if *store {
		if err := config.SetSecret(config.SecretBackendToken, tr.Token); err != nil {
			return c.fail("store token", err)
		}
		okColor.Printf("Stored a token for %s in the OS keyring (expires %s).\n", pos[0], tr.ExpiresAt)
		return 0
	}
	fmt.Println(tr.Token)
	return 0
}

func (c *cli) serve(ctx context.Context) int {
	dsn := c.cfg.History.PostgresDSN
	if dsn == "" {
		fmt.Printf("serve needs history.postgres_dsn in the config or %s\n", config.EnvPostgresDSN)
		return 2
	}
	store, err := backend.OpenStore(ctx, dsn)
	if err != nil {
		return c.fail("open store", err)
	}
	defer func() { _ = store.Close() }()
	if err := backend.Serve(ctx, store, backend.ServerConfig{Addr: c.cfg.Backend.Addr}); err != nil {
		return c.fail("serve", err)
	}
	return 0
}

func (c *cli) ui(args []string) int {
	opts := ui.Options{
		Root:       c.projectRoot("."),
		DeployPath: c.cfg.General.DeployPath,
		Config:     c.cfg,
		Secrets:    c.sec,
	}
	if len(args) > 0 {
		opts.BuilderPath = args[0]
		opts.Root = c.projectRoot(filepath.Dir(args[0]))
	}
	if err := ui.Run(opts); err != nil {
		fmt.Println("Error:", err)
		return 1
	}
	return 0
}
