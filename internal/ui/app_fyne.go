//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"unideploy/internal/crash"
	"unideploy/internal/domain"
	applog "unideploy/internal/log"
	"unideploy/internal/pipeline"
	"unideploy/internal/report"
	"unideploy/internal/runner"
	"unideploy/internal/script"
	"unideploy/internal/storage"
)

// Run opens the builder panel for the builder in opts, or lets the user pick
// or create one under opts.Root.
func Run(opts Options) error {
	l := applog.WithComponent("ui")
	l.Info("starting UI")

	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return err
	}
	opts.Root = root

	p := &panel{opts: opts, log: l, handle: &storage.BuilderHandle{}}
	defer crash.Recover(p.handle)

	fyneApp := app.NewWithID("unideploy")
	w := fyneApp.NewWindow("UniDeploy")
	prefs := fyneApp.Preferences()
	w.Resize(fyne.NewSize(float32(max(prefs.IntWithFallback("window.width", 1000), 700)), float32(max(prefs.IntWithFallback("window.height", 700), 500))))
	p.win = w
	p.build()
	w.SetContent(p.content)

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		if p.setup != nil {
			if err := p.setup.Close(); err != nil {
				l.Warn("close setup failed", slog.Any("err", err))
			}
		}
		w.Close()
	})

	paths, err := builderCandidates(opts)
	switch {
	case err != nil:
		dialog.ShowError(err, w)
	case len(paths) == 0:
		p.askCreateBuilder()
	case len(paths) == 1:
		p.open(paths[0])
	default:
		p.selectBuilder(fyneApp, paths)
	}

	w.ShowAndRun()
	return nil
}

type panel struct {
	opts   Options
	log    *slog.Logger
	win    fyne.Window
	handle *storage.BuilderHandle
	setup  *pipeline.Setup

	content  fyne.CanvasObject
	title    *widget.Label
	status   *widget.Label
	keep     *widget.Check
	autoSave *widget.Check
	deploy   *widget.Entry
	list     *widget.List
	report   *widget.Entry
	editor   *fyne.Container
	selected int

	busy     runGuard
	controls []fyne.Disableable // disabled while a build runs
}

// setBusy locks or unlocks every control that edits the builder.
func (p *panel) setBusy(on bool) {
	for _, c := range p.controls {
		if on {
			c.Disable()
		} else {
			c.Enable()
		}
	}
	p.editor.Refresh()
	p.list.Refresh()
}

func (p *panel) builder() *domain.Builder { return &p.handle.Builder }

func (p *panel) hasBuilder() bool { return p.handle.Path != "" }

func (p *panel) build() {
	p.selected = -1
	p.title = widget.NewLabelWithStyle("No builder open", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	p.status = widget.NewLabel("Ready")

	p.keep = widget.NewCheck("Keep current build target", func(v bool) {
		if p.hasBuilder() && !p.busy.active() && p.builder().KeepCurrentBuildTarget != v {
			p.builder().KeepCurrentBuildTarget = v
			p.save()
		}
	})
	p.autoSave = widget.NewCheck("Automatically save report", func(v bool) {
		if p.hasBuilder() && !p.busy.active() && p.builder().AutomaticallySaveReport != v {
			p.builder().AutomaticallySaveReport = v
			p.save()
		}
	})
	p.deploy = widget.NewEntry()
	p.deploy.SetPlaceHolder("Deploy path")
	p.deploy.OnSubmitted = func(v string) {
		if p.hasBuilder() && !p.busy.active() {
			p.builder().DeployPath = strings.TrimSpace(v)
			p.save()
		}
	}
	browse := widget.NewButton("Browse…", func() {
		dialog.NewFolderOpen(func(uri fyne.ListableURI, err error) {
			if err != nil || uri == nil {
				return
			}
			p.deploy.SetText(uri.Path())
			p.deploy.OnSubmitted(uri.Path())
		}, p.win).Show()
	})

	p.list = widget.NewList(
		func() int {
			if !p.hasBuilder() {
				return 0
			}
			return len(p.builder().Settings)
		},
		func() fyne.CanvasObject {
			return container.NewBorder(nil, nil, nil,
				container.NewHBox(widget.NewButton("Build", nil), widget.NewButton("+", nil), widget.NewButton("-", nil)),
				widget.NewLabel(""))
		},
		func(id widget.ListItemID, o fyne.CanvasObject) {
			row := o.(*fyne.Container)
			var lbl *widget.Label
			var buttons *fyne.Container
			for _, obj := range row.Objects {
				switch v := obj.(type) {
				case *widget.Label:
					lbl = v
				case *fyne.Container:
					buttons = v
				}
			}
			if lbl == nil || buttons == nil || id >= len(p.builder().Settings) {
				return
			}
			lbl.SetText(settingsLabel(p.builder().Settings[id]))
			buttons.Objects[0].(*widget.Button).OnTapped = func() { p.buildOne(id) }
			buttons.Objects[1].(*widget.Button).OnTapped = func() { p.addAfter(id) }
			buttons.Objects[2].(*widget.Button).OnTapped = func() { p.remove(id) }
			for _, b := range buttons.Objects {
				if p.busy.active() {
					b.(*widget.Button).Disable()
				} else {
					b.(*widget.Button).Enable()
				}
			}
		},
	)
	p.list.OnSelected = func(id widget.ListItemID) {
		p.selected = id
		p.showEditor(id)
	}

	addFirst := widget.NewButton("Add settings", func() { p.addAfter(len(p.builder().Settings) - 1) })
	buildAll := widget.NewButton("Build All", p.buildAll)
	buildAll.Importance = widget.HighImportance
	p.controls = []fyne.Disableable{p.keep, p.autoSave, p.deploy, browse, addFirst, buildAll}

	p.report = widget.NewMultiLineEntry()
	p.report.TextStyle = fyne.TextStyle{Monospace: true}
	p.report.Wrapping = fyne.TextWrapOff
	saveReport := widget.NewButton("Save Report", p.saveReport)
	exportPDF := widget.NewButton("Export PDF", p.exportPDF)

	p.editor = container.NewVBox(widget.NewLabel("Select a settings entry to edit it."))

	top := container.NewVBox(
		p.title,
		container.NewHBox(p.keep, p.autoSave),
		container.NewBorder(nil, nil, widget.NewLabel("Deploy path"), browse, p.deploy),
	)
	left := container.NewBorder(nil, container.NewHBox(addFirst, buildAll), nil, nil, p.list)
	bottom := container.NewBorder(nil, container.NewHBox(saveReport, exportPDF, p.status), nil, nil, p.report)
	split := container.NewVSplit(container.NewHSplit(left, container.NewVScroll(p.editor)), bottom)
	split.Offset = 0.6
	p.content = container.NewBorder(top, nil, nil, nil, split)
}

func (p *panel) open(path string) {
	h, err := storage.OpenBuilder(path)
	if err != nil {
		p.log.Error("open builder failed", slog.Any("err", err))
		dialog.ShowError(err, p.win)
		return
	}
	if h.Recovered {
		dialog.ShowInformation("Builder", "The builder file was unreadable and has been restored from the latest backup.", p.win)
	}
	*p.handle = *h
	p.refresh()
	p.status.SetText("Opened " + path)
}

func (p *panel) refresh() {
	b := p.builder()
	p.title.SetText(b.Name)
	p.win.SetTitle(fmt.Sprintf("UniDeploy: %s", b.Name))
	p.keep.SetChecked(b.KeepCurrentBuildTarget)
	p.autoSave.SetChecked(b.AutomaticallySaveReport)
	p.deploy.SetText(deployPathFor(b, p.opts.DeployPath))
	p.report.SetText(b.Report)
	p.list.Refresh()
}

func (p *panel) save() {
	if err := storage.SaveBuilder(p.handle); err != nil {
		p.log.Error("save builder failed", slog.Any("err", err))
		dialog.ShowError(err, p.win)
	}
}

func (p *panel) askCreateBuilder() {
	name := widget.NewEntry()
	name.SetText("Builder")
	dialog.NewForm("No builder found", "Create", "Cancel", []*widget.FormItem{
		widget.NewFormItem("Name", name),
	}, func(ok bool) {
		if !ok {
			return
		}
		path, err := builderFileFor(p.opts.Root, name.Text)
		if err != nil {
			dialog.ShowError(err, p.win)
			return
		}
		h, err := storage.CreateBuilder(path, domain.NewBuilder(strings.TrimSpace(name.Text)))
		if err != nil {
			dialog.ShowError(err, p.win)
			return
		}
		*p.handle = *h
		p.refresh()
	}, p.win).Show()
}

func (p *panel) selectBuilder(a fyne.App, paths []string) {
	sw := a.NewWindow("Select builder")
	list := widget.NewList(
		func() int { return len(paths) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, o fyne.CanvasObject) {
			rel, err := filepath.Rel(p.opts.Root, paths[id])
			if err != nil {
				rel = paths[id]
			}
			o.(*widget.Label).SetText(rel)
		},
	)
	list.OnSelected = func(id widget.ListItemID) {
		p.open(paths[id])
		sw.Close()
	}
	sw.SetContent(list)
	sw.Resize(fyne.NewSize(420, 300))
	sw.Show()
}

func (p *panel) addAfter(i int) {
	if !p.hasBuilder() || p.busy.active() {
		return
	}
	b := p.builder()
	s := domain.NewBuildSettings(uniqueName(b, "settings"))
	s.BuildTarget = domain.TargetWindows64
	s.BuildGroup = s.BuildTarget.Group()
	if err := b.InsertAfter(i, s); err != nil {
		dialog.ShowError(err, p.win)
		return
	}
	p.save()
	p.list.Refresh()
}

func (p *panel) remove(i int) {
	b := p.builder()
	if p.busy.active() || i < 0 || i >= len(b.Settings) {
		return
	}
	dialog.ShowConfirm("Remove settings", fmt.Sprintf("Remove '%s'?", b.Settings[i].Name), func(ok bool) {
		if !ok || p.busy.active() {
			return
		}
		if err := b.Remove(i); err != nil {
			dialog.ShowError(err, p.win)
			return
		}
		p.save()
		p.selected = -1
		p.list.UnselectAll()
		p.editor.Objects = []fyne.CanvasObject{widget.NewLabel("Select a settings entry to edit it.")}
		p.editor.Refresh()
		p.list.Refresh()
	}, p.win)
}

func (p *panel) showEditor(id int) {
	b := p.builder()
	if id < 0 || id >= len(b.Settings) {
		return
	}
	f := fieldsOf(b.Settings[id])

	name := widget.NewEntry()
	name.SetText(f.Name)
	buildName := widget.NewEntry()
	buildName.SetText(f.BuildName)
	dir := widget.NewEntry()
	dir.SetText(f.Directory)
	target := widget.NewSelect(targetNames(), nil)
	target.SetSelected(f.Target)
	scenes := widget.NewMultiLineEntry()
	scenes.SetText(f.Scenes)
	scenes.SetMinRowsVisible(3)
	batchFile := widget.NewEntry()
	batchFile.SetText(f.BatchFile)
	batchArgs := widget.NewMultiLineEntry()
	batchArgs.SetText(f.BatchArguments)
	batchArgs.SetPlaceHolder("%zipFile\n%itchProject\n%itchChannel")
	zip := widget.NewCheck("Create zip file", nil)
	zip.SetChecked(f.CreateZip)
	useBatch := widget.NewCheck("Use batch file", nil)
	useBatch.SetChecked(f.UseBatch)
	mirror := widget.NewCheck("Mirror zip to object storage", nil)
	mirror.SetChecked(f.Mirror)
	itchOn := widget.NewCheck("Push to itch with butler", nil)
	itchOn.SetChecked(f.ItchEnabled)
	itchProject := widget.NewEntry()
	itchProject.SetText(f.ItchProject)
	itchProject.SetPlaceHolder("user/game")
	itchChannel := widget.NewEntry()
	itchChannel.SetText(f.ItchChannel)
	itchVersion := widget.NewEntry()
	itchVersion.SetText(f.ItchVersion)

	read := func() settingsFields {
		return settingsFields{
			Name: name.Text, BuildName: buildName.Text, Directory: dir.Text, Target: target.Selected,
			Scenes: scenes.Text, BatchFile: batchFile.Text, BatchArguments: batchArgs.Text,
			CreateZip: zip.Checked, UseBatch: useBatch.Checked, Mirror: mirror.Checked,
			ItchEnabled: itchOn.Checked, ItchProject: itchProject.Text, ItchChannel: itchChannel.Text, ItchVersion: itchVersion.Text,
		}
	}

	apply := widget.NewButton("Apply", func() {
		if p.busy.active() {
			p.status.SetText("Settings cannot be changed while a build runs")
			return
		}
		if id >= len(b.Settings) {
			return
		}
		s := b.Settings[id]
		read().apply(&s)
		if s.Name != b.Settings[id].Name {
			if j := b.Find(s.Name); j >= 0 && j != id {
				dialog.ShowError(fmt.Errorf("a settings entry named %q already exists", s.Name), p.win)
				return
			}
		}
		if err := s.Validate(); err != nil {
			dialog.ShowError(err, p.win)
		}
		b.Settings[id] = s
		p.save()
		p.list.Refresh()
	})
	compile := widget.NewButton("Compile", func() {
		s := b.Settings[id]
		read().apply(&s)
		path := script.ResolveScriptPath(p.projectRoot(), s.BatchFile)
		text, err := script.CompileFile(path, &s, s.BatchArguments)
		if err != nil {
			dialog.ShowError(err, p.win)
			return
		}
		out := widget.NewMultiLineEntry()
		out.SetText(text)
		out.TextStyle = fyne.TextStyle{Monospace: true}
		d := dialog.NewCustom("Compiled "+filepath.Base(path), "Close", container.NewVScroll(out), p.win)
		d.Resize(fyne.NewSize(640, 420))
		d.Show()
	})
	pushScript := widget.NewButton("Create default PushToItch script", func() {
		path, err := script.WriteDefaultPushScript(p.projectRoot())
		if err != nil {
			dialog.ShowError(err, p.win)
			return
		}
		rel, rerr := filepath.Rel(p.projectRoot(), path)
		if rerr != nil {
			rel = path
		}
		batchFile.SetText(filepath.ToSlash(rel))
		batchArgs.SetText(strings.Join(script.DefaultPushArguments(), "\n"))
		useBatch.SetChecked(true)
		p.status.SetText("Created " + path)
	})
	args := widget.NewLabel("Arguments: %" + strings.Join(domain.ArgumentNames(), " %"))
	args.Wrapping = fyne.TextWrapWord

	form := widget.NewForm(
		widget.NewFormItem("Name", name),
		widget.NewFormItem("Build name", buildName),
		widget.NewFormItem("Directory", dir),
		widget.NewFormItem("Build target", target),
		widget.NewFormItem("Scenes", scenes),
		widget.NewFormItem("", zip),
		widget.NewFormItem("", mirror),
		widget.NewFormItem("", useBatch),
		widget.NewFormItem("Batch file", batchFile),
		widget.NewFormItem("Batch arguments", batchArgs),
		widget.NewFormItem("", itchOn),
		widget.NewFormItem("Itch project", itchProject),
		widget.NewFormItem("Itch channel", itchChannel),
		widget.NewFormItem("User version", itchVersion),
	)
	p.editor.Objects = []fyne.CanvasObject{form, args, container.NewHBox(apply, compile, pushScript)}
	p.editor.Refresh()
}

func (p *panel) projectRoot() string {
	if p.opts.Config.Unity.ProjectPath != "" {
		return p.opts.Config.Unity.ProjectPath
	}
	return p.opts.Root
}

func (p *panel) ensureSetup() (*pipeline.Setup, error) {
	if p.setup != nil {
		return p.setup, nil
	}
	s, err := pipeline.NewSetup(context.Background(), p.opts.Config, p.opts.Secrets, p.projectRoot())
	if err != nil {
		return nil, err
	}
	s.Deployer.Builder = p.builder().Name
	p.setup = s
	return s, nil
}

func (p *panel) deployPath() (string, error) {
	dp := strings.TrimSpace(p.deploy.Text)
	if dp == "" {
		return "", fmt.Errorf("choose a deploy path first")
	}
	return dp, nil
}

// run executes fn behind a cancelable progress dialog and shows the report it returns.
func (p *panel) run(title string, fn func(ctx context.Context, d *pipeline.Deployer) string) {
	if !p.hasBuilder() {
		return
	}
	s, err := p.ensureSetup()
	if err != nil {
		dialog.ShowError(err, p.win)
		return
	}
	if !p.busy.begin() {
		p.status.SetText("A build is already running")
		return
	}
	p.setBusy(true)
	ctx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool
	var finished atomic.Bool

	lbl := widget.NewLabel("Starting…")
	dlg := dialog.NewCustom(title, "Cancel", container.NewVBox(lbl, widget.NewProgressBarInfinite()), p.win)
	dlg.SetOnClosed(func() {
		if !finished.Load() {
			p.log.Info("build cancelled by user")
			stopped.Store(true)
		}
		cancel()
	})
	s.SetProgress(func(pr runner.Progress) bool {
		fyne.Do(func() { lbl.SetText(progressText(pr)) })
		return !stopped.Load()
	})
	dlg.Show()
	p.status.SetText(title + "…")

	go func() {
		rep := fn(ctx, s.Deployer)
		fyne.Do(func() {
			finished.Store(true)
			p.busy.end()
			p.setBusy(false)
			dlg.Hide()
			p.report.SetText(rep)
			p.save()
			p.list.Refresh()
			if ctx.Err() != nil {
				p.status.SetText(title + " cancelled")
			} else {
				p.status.SetText(title + " done")
			}
		})
	}()
}

func (p *panel) buildOne(id int) {
	b := p.builder()
	if id < 0 || id >= len(b.Settings) {
		return
	}
	dp, err := p.deployPath()
	if err != nil {
		dialog.ShowError(err, p.win)
		return
	}
	keep := b.KeepCurrentBuildTarget || b.Settings[id].KeepCurrentBuildTarget
	name := b.Settings[id].Name
	p.run("Building "+name, func(ctx context.Context, d *pipeline.Deployer) string {
		return d.Build(ctx, &b.Settings[id], dp, keep).Report
	})
}

func (p *panel) buildAll() {
	if !p.hasBuilder() {
		return
	}
	dp, err := p.deployPath()
	if err != nil {
		dialog.ShowError(err, p.win)
		return
	}
	b := p.builder()
	p.run("Build All", func(ctx context.Context, d *pipeline.Deployer) string {
		return d.BuildAll(ctx, b, dp).Report
	})
}

func (p *panel) saveReport() {
	text := p.report.Text
	fd := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
		if err != nil || uc == nil {
			return
		}
		path := uc.URI().Path()
		_ = uc.Close()
		if err := report.Save(text, path); err != nil {
			dialog.ShowError(err, p.win)
			return
		}
		p.status.SetText("Report saved to " + path)
	}, p.win)
	fd.SetFileName(report.FileName("Report", nowFunc()))
	fd.Show()
}

func (p *panel) exportPDF() {
	text := p.report.Text
	title := "UniDeploy report"
	if p.hasBuilder() {
		title = p.builder().Name
	}
	fd := dialog.NewFileSave(func(uc fyne.URIWriteCloser, err error) {
		if err != nil || uc == nil {
			return
		}
		path := uc.URI().Path()
		_ = uc.Close()
		if err := report.ExportPDF(text, title, path); err != nil {
			dialog.ShowError(err, p.win)
			return
		}
		p.status.SetText("PDF exported to " + path)
	}, p.win)
	fd.SetFileName(strings.TrimSuffix(report.FileName(title, nowFunc()), ".txt") + ".pdf")
	fd.Show()
}
