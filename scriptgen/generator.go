// Package scriptgen synthesizes the deferred build commands for
// interpreted-script targets: template variable substitution, optional
// byte-compilation, and parallel build-tree and install-tree output
// materialization. Targets move through an explicit Declared →
// Generated state machine; generating twice is a no-op.
package scriptgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/targon-build/targon/deps"
	"github.com/targon-build/targon/engine"
	"github.com/targon-build/targon/fs"
	"github.com/targon-build/targon/language"
	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/target"
)

// Property keys consulted by the generator. ConfigProperty holds an
// inline Starlark configuration string; ConfigFileProperty names a
// per-target variable file that must exist.
const (
	ConfigProperty     = "CONFIG"
	ConfigFileProperty = "CONFIG_FILE"
	CompileProperty    = "COMPILE"
)

// GenerationError reports a failed build-command synthesis.
type GenerationError struct {
	UID target.UID
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("target %s: %s: %v", e.UID, e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator synthesizes build steps for script-kind targets.
type Generator struct {
	Project  *project.Project
	FS       fs.FileSystem
	Engine   engine.BuildGraph
	Resolver *deps.Resolver
	Cache    *VarCache
}

func New(p *project.Project, fsys fs.FileSystem, eng engine.BuildGraph, resolver *deps.Resolver, cache *VarCache) *Generator {
	return &Generator{Project: p, FS: fsys, Engine: eng, Resolver: resolver, Cache: cache}
}

// Generate runs the one build-command-generation pass for a declared
// script target. A target already in the generated state is left
// alone.
func (g *Generator) Generate(t *target.Target) error {
	if t.State == target.StateGenerated {
		return nil
	}
	if !t.Kind.IsScript() {
		return &GenerationError{UID: t.UID, Op: "generate",
			Err: errors.Errorf("kind %s is not handled by the script pipeline", t.Kind)}
	}

	// Source sets declared by pattern are re-expanded here so a file
	// added since declaration still makes it into the command set.
	files, err := fs.ExpandPatterns(g.FS, t.SourcePatterns)
	if err != nil {
		return &GenerationError{UID: t.UID, Op: "re-glob sources", Err: err}
	}
	if len(files) > 0 {
		t.Sources = files
	}

	closure, err := g.Resolver.CloseOver(t)
	if err != nil {
		return err
	}

	vars, configInputs, err := g.resolveVariables(t, closure)
	if err != nil {
		return err
	}
	g.Cache.Record(t.UID, vars)

	compile := g.wantsCompile(t)

	var cleanup []string
	for _, src := range t.Sources {
		out, err := g.generateFile(t, src, vars, configInputs, compile)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, out...)
	}
	g.Engine.RegisterCleanup(cleanup)

	// Order this target's steps after every link dependency that is a
	// declared target.
	for _, tok := range closure {
		if tok.Resolved() && g.Project.Registry().Known(tok.UID) {
			g.Engine.AddStepDependency(t.UID, tok.UID)
		}
	}

	t.State = target.StateGenerated
	return nil
}

// resolveVariables builds the substitution map from the ordered
// configuration sources: global file, project override file, inline
// string — later sources win. Built-in target variables and the
// install locations of resolved dependencies are added first so user
// configuration can override them too.
func (g *Generator) resolveVariables(t *target.Target, closure []target.DependencyToken) (map[string]string, []string, error) {
	settings := g.Project.Settings
	convention := g.Project.Registry().Convention()

	vars := map[string]string{
		"TARGET_UID":  string(t.UID),
		"TARGET_NAME": convention.ShortName(t.UID),
		"LANGUAGE":    string(t.Language),
		"BUILD_DIR":   t.BuildDir,
		"OUTPUT_DIR":  t.OutputDir,
		"INSTALL_DIR": t.InstallDir,
	}

	// Runtime search-path variables: resolved dependencies export
	// their install-tree (or build-tree) location under <NAME>_DIR.
	for _, tok := range closure {
		if !tok.Resolved() {
			continue
		}
		dep, ok := g.Project.Target(tok.UID)
		if !ok {
			continue
		}
		key := strings.ToUpper(convention.ShortName(tok.UID))
		key = strings.Map(func(r rune) rune {
			if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
				return r
			}
			return '_'
		}, key)
		dir := dep.InstallDir
		if dir == "" {
			dir = dep.OutputDir
		}
		vars[key+"_DIR"] = dir
	}

	var inputs []string
	if settings.ScriptConfigFile != "" {
		if err := loadVarsFile(g.FS, settings.ScriptConfigFile, false, vars); err != nil {
			return nil, nil, &GenerationError{UID: t.UID, Op: "load script configuration", Err: err}
		}
		inputs = append(inputs, settings.ScriptConfigFile)
	}
	if settings.ProjectConfigFile != "" {
		if err := loadVarsFile(g.FS, settings.ProjectConfigFile, false, vars); err != nil {
			return nil, nil, &GenerationError{UID: t.UID, Op: "load project configuration", Err: err}
		}
		inputs = append(inputs, settings.ProjectConfigFile)
	}
	if path, ok := t.Property(ConfigFileProperty); ok && path != "" {
		// Explicitly named per-target files are required.
		if err := loadVarsFile(g.FS, path, true, vars); err != nil {
			return nil, nil, &GenerationError{UID: t.UID, Op: "load target configuration", Err: err}
		}
		inputs = append(inputs, path)
	}
	if inline, ok := t.Property(ConfigProperty); ok && inline != "" {
		if err := loadVarsInline(inline, vars); err != nil {
			return nil, nil, &GenerationError{UID: t.UID, Op: "apply inline configuration", Err: err}
		}
	}

	return vars, inputs, nil
}

// generateFile materializes one source file: substituted (for
// templates) or copied into the build tree, optionally byte-compiled,
// and staged for installation unless installation is disabled. Returns
// every generated path for cleanup registration.
func (g *Generator) generateFile(t *target.Target, src string, vars map[string]string, configInputs []string, compile bool) ([]string, error) {
	rel := g.relativeOutput(t, src)
	buildPath := filepath.Join(t.OutputDir, rel)

	content, err := g.FS.ReadFile(src)
	if err != nil {
		return nil, &GenerationError{UID: t.UID, Op: fmt.Sprintf("read source %s", src), Err: err}
	}
	if strings.HasSuffix(src, language.TemplateSuffix) {
		content = []byte(Substitute(string(content), vars))
	}

	if err := g.FS.MkdirAll(filepath.Dir(buildPath), 0755); err != nil {
		return nil, &GenerationError{UID: t.UID, Op: "create output directory", Err: err}
	}
	mode := fileMode(t.Kind)
	if err := g.FS.WriteFile(buildPath, content, mode); err != nil {
		return nil, &GenerationError{UID: t.UID, Op: fmt.Sprintf("write %s", buildPath), Err: err}
	}

	outputs := []string{buildPath}
	inputs := append([]string{src}, configInputs...)

	var compiledPath string
	if compile {
		compiledPath = buildPath + "c"
		outputs = append(outputs, compiledPath)
	}

	if err := g.Engine.AddStep(engine.Step{
		Target:      t.UID,
		Description: fmt.Sprintf("Building script %s", rel),
		Inputs:      inputs,
		Outputs:     outputs,
		Command:     []string{"targon", "configure-script", src, buildPath},
	}); err != nil {
		return nil, &GenerationError{UID: t.UID, Op: "add build step", Err: err}
	}

	if compile {
		if err := g.Engine.AddStep(engine.Step{
			Target:      t.UID,
			Description: fmt.Sprintf("Compiling script %s", rel),
			Inputs:      []string{buildPath},
			Outputs:     []string{compiledPath},
			Command:     compileCommand(t.Language, buildPath),
		}); err != nil {
			return nil, &GenerationError{UID: t.UID, Op: "add compile step", Err: err}
		}
	}

	if t.InstallDir != "" {
		installPath := filepath.Join(t.InstallDir, rel)
		g.Engine.InstallFile(engine.InstallEntry{
			Target:      t.UID,
			Source:      buildPath,
			Destination: installPath,
			Component:   t.InstallComponent,
			Executable:  t.Kind.IsExecutable(),
		})
		if compile {
			g.Engine.InstallFile(engine.InstallEntry{
				Target:      t.UID,
				Source:      compiledPath,
				Destination: installPath + "c",
				Component:   t.InstallComponent,
			})
		}
	}

	return outputs, nil
}

// relativeOutput computes the output path of a source file relative to
// the target's output root: the template suffix is stripped, the
// source-relative directory structure preserved, and for namespaced
// module kinds the package prefix is applied with the project
// namespace translated to path separators per language convention.
func (g *Generator) relativeOutput(t *target.Target, src string) string {
	rel, err := filepath.Rel(t.SourceDir, src)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(src)
	}
	rel = strings.TrimSuffix(rel, language.TemplateSuffix)

	if prefix := namespacePrefix(t, g.Project.Settings.Namespace); prefix != "" {
		rel = filepath.Join(prefix, rel)
	}
	return rel
}

// namespacePrefix derives the package directory prefix for namespaced
// module targets: dots (and Perl's double-colons) become path
// separators.
func namespacePrefix(t *target.Target, namespace string) string {
	if namespace == "" {
		return ""
	}
	if t.Kind != target.ScriptModule && t.Kind != target.ScriptLibrary {
		return ""
	}
	ns := strings.ReplaceAll(namespace, "::", ".")
	return strings.ReplaceAll(ns, ".", string(filepath.Separator))
}

func (g *Generator) wantsCompile(t *target.Target) bool {
	if t.Language != language.Python {
		return false
	}
	if t.Kind.IsExecutable() {
		return false
	}
	if v, ok := t.Property(CompileProperty); ok {
		return v == "1" || strings.EqualFold(v, "true")
	}
	return g.Project.Settings.CompileScripts
}

func compileCommand(lang language.Language, path string) []string {
	// Only Python has a byte-compiled artifact today.
	return []string{"python3", "-m", "py_compile", path}
}

func fileMode(kind target.Kind) os.FileMode {
	if kind.IsExecutable() {
		return 0755
	}
	return 0644
}
