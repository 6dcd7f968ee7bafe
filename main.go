package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"

	"github.com/targon-build/targon/config"
	"github.com/targon-build/targon/deps"
	"github.com/targon-build/targon/dispatch"
	"github.com/targon-build/targon/engine"
	"github.com/targon-build/targon/fs"
	"github.com/targon-build/targon/language"
	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/scriptgen"
	"github.com/targon-build/targon/target"
)

func main() {
	configPath := flag.String("config", "targon.star", "Path to the project file")
	graphPath := flag.String("graph", "targon-graph.json", "Where to write the emitted build graph")
	varsPath := flag.String("vars-cache", "targon-vars.json", "Per-target template variable cache file")
	exportsPath := flag.String("exports", "targon-exports.json", "Where to write the export manifests")
	inspect := flag.Bool("inspect", false, "Browse the configured targets interactively")
	flag.Parse()

	fsys := fs.RealFileSystem{}

	pf, err := config.ParseProjectFile(fsys, *configPath)
	if err != nil {
		log.Fatalf("Error parsing project file: %v", err)
	}

	proj := project.New(settingsFrom(pf.Settings))
	graph := engine.NewGraph()

	cache := scriptgen.NewVarCache(fsys, *varsPath)
	if err := cache.Load(); err != nil {
		log.Fatalf("Error loading variable cache: %v", err)
	}

	dispatcher := dispatch.New(proj, fsys, graph)
	resolver := deps.New(proj, graph)
	generator := scriptgen.New(proj, fsys, graph, resolver, cache)

	finalizer := scriptgen.NewFinalizer(proj)
	finalizer.RegisterGenerator(scriptgen.ClassScript, generator)

	if err := configure(proj, dispatcher, resolver, finalizer, pf.Targets); err != nil {
		log.Fatalf("Configuration failed: %v", err)
	}

	if err := cache.Save(); err != nil {
		log.Fatalf("Error saving variable cache: %v", err)
	}
	if err := graph.Save(fsys, *graphPath); err != nil {
		log.Fatalf("Error writing build graph: %v", err)
	}
	if err := writeExports(fsys, *exportsPath, proj); err != nil {
		log.Fatalf("Error writing export manifests: %v", err)
	}

	if *inspect {
		if err := runInspector(proj, graph); err != nil {
			log.Fatalf("Error running inspector: %v", err)
		}
		return
	}

	printSummary(proj)
}

func settingsFrom(s config.Settings) project.Settings {
	if s.SourceDir == "" {
		s.SourceDir, _ = os.Getwd()
	}
	if s.BuildDir == "" {
		s.BuildDir = filepath.Join(s.SourceDir, "build")
	}
	if s.InstallPrefix == "" {
		s.InstallPrefix = "/usr/local"
	}
	return project.Settings{
		Name:              s.Name,
		Namespace:         s.Namespace,
		SourceDir:         s.SourceDir,
		BuildDir:          s.BuildDir,
		InstallPrefix:     s.InstallPrefix,
		TestingDir:        s.TestingDir,
		ScriptConfigFile:  s.ScriptConfigFile,
		ProjectConfigFile: s.ProjectConfigFile,
		CompileScripts:    s.CompileScripts,
	}
}

// configure runs the two strictly ordered phases of one run: declare
// every target, then finalize once.
func configure(proj *project.Project, d *dispatch.Dispatcher, r *deps.Resolver, f *scriptgen.Finalizer, decls []config.TargetDecl) error {
	type pending struct {
		t    *target.Target
		decl config.TargetDecl
	}
	var declared []pending

	for _, decl := range decls {
		req, err := kindRequest(decl)
		if err != nil {
			return err
		}
		opts := dispatch.Options{
			Language:    language.Language(decl.Language),
			Static:      decl.Static,
			Shared:      decl.Shared,
			Module:      decl.Module,
			Libexec:     decl.Libexec,
			Destination: decl.Destination,
			Component:   decl.Component,
			NoExport:    decl.NoExport,
			Test:        decl.Test,
			Compile:     decl.Compile,
			SourceDir:   decl.SourceDir,
		}
		t, err := d.Declare(decl.Name, req, opts, decl.Sources)
		if err != nil {
			return err
		}
		if decl.Config != "" {
			if err := t.SetProperty(scriptgen.ConfigProperty, decl.Config); err != nil {
				return err
			}
		}
		if decl.ConfigFile != "" {
			if err := t.SetProperty(scriptgen.ConfigFileProperty, decl.ConfigFile); err != nil {
				return err
			}
		}
		declared = append(declared, pending{t: t, decl: decl})
	}

	// Dependency wiring happens after all declarations so forward
	// references between targets in the same file resolve.
	for _, p := range declared {
		if err := r.AddDependencies(p.t, p.decl.Deps); err != nil {
			return err
		}
		if err := r.AddLinkLibraries(p.t, p.decl.Link); err != nil {
			return err
		}
	}

	return f.FinalizeAll()
}

func kindRequest(decl config.TargetDecl) (dispatch.KindRequest, error) {
	switch decl.Kind {
	case "executable", "":
		return dispatch.RequestExecutable, nil
	case "library":
		return dispatch.RequestLibrary, nil
	case "script":
		return dispatch.RequestScript, nil
	}
	return 0, fmt.Errorf("target %s: unknown kind %q", decl.Name, decl.Kind)
}

func writeExports(fsys fs.FileSystem, path string, proj *project.Project) error {
	manifests := struct {
		Targets     []project.ExportEntry `json:"targets"`
		TestTargets []project.ExportEntry `json:"test_targets"`
	}{
		Targets:     proj.Exports(),
		TestTargets: proj.TestExports(),
	}
	data, err := json.MarshalIndent(manifests, "", "  ")
	if err != nil {
		return err
	}
	return fsys.WriteFile(path, data, 0644)
}

func printSummary(proj *project.Project) {
	kindStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	nameStyle := lipgloss.NewStyle().Bold(true)

	for _, t := range proj.Targets() {
		state := ""
		if t.Kind.GeneratesCommands() {
			state = fmt.Sprintf(" [%s]", t.State)
		}
		fmt.Printf("%s  %s%s\n",
			nameStyle.Render(string(t.UID)),
			kindStyle.Render(t.Kind.String()),
			state,
		)
	}
	fmt.Printf("Configured %d target(s)\n", len(proj.Targets()))
}
