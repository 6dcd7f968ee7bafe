// Package dispatch turns user-facing target declarations into
// registered targets: it derives logical names, expands source globs,
// classifies languages, validates options, routes native kinds to the
// engine and command-generating kinds to the deferred pipeline, and
// computes default output and install locations.
package dispatch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/targon-build/targon/engine"
	"github.com/targon-build/targon/fs"
	"github.com/targon-build/targon/language"
	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/target"
)

// KindRequest is the user-facing target category; the classified
// language refines it into a concrete target.Kind.
type KindRequest int

const (
	RequestExecutable KindRequest = iota
	RequestLibrary
	RequestScript
)

func (k KindRequest) String() string {
	switch k {
	case RequestLibrary:
		return "library"
	case RequestScript:
		return "script"
	}
	return "executable"
}

// Options refine a declaration. Static/Shared/Module are mutually
// exclusive, as are Module/Libexec for scripts.
type Options struct {
	// Language skips classification when set.
	Language language.Language

	Static  bool
	Shared  bool
	Module  bool
	Libexec bool

	// Destination overrides the default install directory; the value
	// "none" (case-insensitive) disables installation entirely.
	Destination string
	Component   string

	NoExport bool
	Test     bool

	// Compile requests byte-compilation of the generated scripts.
	Compile bool

	// SourceDir is the directory the declaration belongs to; defaults
	// to the project source dir.
	SourceDir string
}

// ConflictingOptionsError reports mutually exclusive options supplied
// together.
type ConflictingOptionsError struct {
	Name    string
	Options []string
}

func (e *ConflictingOptionsError) Error() string {
	return fmt.Sprintf("target %s: options %s are mutually exclusive",
		e.Name, strings.Join(e.Options, ", "))
}

// MissingSourcesError reports a declaration whose source patterns
// expanded to nothing.
type MissingSourcesError struct {
	Name     string
	Patterns []string
}

func (e *MissingSourcesError) Error() string {
	return fmt.Sprintf("target %s: no source files resolved from %s",
		e.Name, strings.Join(e.Patterns, ", "))
}

// Dispatcher declares targets into a project.
type Dispatcher struct {
	Project *project.Project
	FS      fs.FileSystem
	Engine  engine.BuildGraph
}

func New(p *project.Project, fsys fs.FileSystem, eng engine.BuildGraph) *Dispatcher {
	return &Dispatcher{Project: p, FS: fsys, Engine: eng}
}

// AddExecutable declares an executable target from the given sources.
func (d *Dispatcher) AddExecutable(name string, opts Options, sources ...string) (*target.Target, error) {
	return d.Declare(name, RequestExecutable, opts, sources)
}

// AddLibrary declares a library target from the given sources.
func (d *Dispatcher) AddLibrary(name string, opts Options, sources ...string) (*target.Target, error) {
	return d.Declare(name, RequestLibrary, opts, sources)
}

// AddScript declares a single-script target.
func (d *Dispatcher) AddScript(name string, opts Options, sources ...string) (*target.Target, error) {
	return d.Declare(name, RequestScript, opts, sources)
}

// Declare runs the full declaration sequence for one target.
func (d *Dispatcher) Declare(name string, req KindRequest, opts Options, sources []string) (*target.Target, error) {
	if opts.SourceDir == "" {
		opts.SourceDir = d.Project.Settings.SourceDir
	}

	// A name that denotes an existing file or directory stands for
	// both the logical name and the source.
	name, sources = d.deriveName(name, req, opts, sources)

	patterns := absolutePatterns(opts.SourceDir, sources)
	files, err := fs.ExpandPatterns(d.FS, patterns)
	if err != nil {
		return nil, errors.Wrapf(err, "target %s: failed to expand sources", name)
	}
	if len(files) == 0 {
		return nil, &MissingSourcesError{Name: name, Patterns: patterns}
	}

	lang := opts.Language
	if lang == "" {
		lang, err = language.Classify(d.FS, files)
		if err != nil {
			return nil, errors.Wrapf(err, "target %s", name)
		}
	}

	kind, linkage, err := resolveKind(name, req, lang, opts)
	if err != nil {
		return nil, err
	}

	t := target.New("", kind)
	t.Linkage = linkage
	t.Language = lang
	t.SourceDir = opts.SourceDir
	t.BuildDir = d.Project.BuildDirFor(opts.SourceDir)
	t.SourcePatterns = patterns
	t.Sources = files
	t.IsTest = opts.Test || d.Project.IsTestPath(opts.SourceDir)

	uid, err := d.Project.AddTarget(name, t)
	if err != nil {
		return nil, err
	}

	// Source sets declared by pattern may change between runs; the
	// engine computes its dependency graph once per configuration, so
	// it needs an explicit re-glob record.
	d.Engine.RegisterGlob(uid, patterns)

	d.applyLocations(t, name, opts)

	if kind.IsNative() {
		err := d.Engine.CreateNativeTarget(engine.NativeTarget{
			UID:     uid,
			Kind:    kind,
			Linkage: linkage,
			Sources: files,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "target %s", name)
		}
	}
	// Script and cross-compiled targets stay in the declared state
	// until the finalization pass synthesizes their build commands.

	t.RecordComputedProperties()
	if opts.Compile {
		t.SetProperty("COMPILE", "1")
	}

	if !opts.NoExport {
		d.Project.Export(t, d.exportPath(t, name))
	}
	t.Exported = !opts.NoExport

	return t, nil
}

// deriveName maps a file or directory path used as the name onto a
// logical target name, per the kind's naming rule: executables and
// cross-compiled targets drop the extension, module libraries keep it.
func (d *Dispatcher) deriveName(name string, req KindRequest, opts Options, sources []string) (string, []string) {
	candidate := name
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(opts.SourceDir, name)
	}
	if !fs.Exists(d.FS, candidate) {
		return name, sources
	}

	if len(sources) == 0 {
		if fs.IsDir(d.FS, candidate) {
			sources = []string{filepath.Join(candidate, "**", "*")}
		} else {
			sources = []string{candidate}
		}
	}

	base := filepath.Base(name)
	base = strings.TrimSuffix(base, language.TemplateSuffix)
	if req == RequestLibrary && opts.Module {
		return base, sources
	}
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base, sources
}

func absolutePatterns(dir string, sources []string) []string {
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		if !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		out = append(out, src)
	}
	return out
}

// resolveKind combines the requested category with the classified
// language and validates mutually exclusive refinements.
func resolveKind(name string, req KindRequest, lang language.Language, opts Options) (target.Kind, target.Linkage, error) {
	if req == RequestLibrary {
		count := 0
		picked := []string{}
		if opts.Static {
			count++
			picked = append(picked, "STATIC")
		}
		if opts.Shared {
			count++
			picked = append(picked, "SHARED")
		}
		if opts.Module {
			count++
			picked = append(picked, "MODULE")
		}
		if count > 1 {
			return target.KindUnknown, target.LinkageDefault, &ConflictingOptionsError{Name: name, Options: picked}
		}
	}
	if opts.Module && opts.Libexec {
		return target.KindUnknown, target.LinkageDefault,
			&ConflictingOptionsError{Name: name, Options: []string{"MODULE", "LIBEXEC"}}
	}

	switch {
	case lang.IsCross():
		if req == RequestLibrary {
			return target.CrossLibrary, target.LinkageDefault, nil
		}
		return target.CrossExecutable, target.LinkageDefault, nil

	case lang.IsInterpreted():
		switch {
		case req == RequestLibrary && opts.Module:
			return target.ScriptModule, target.LinkageDefault, nil
		case req == RequestLibrary:
			return target.ScriptLibrary, target.LinkageDefault, nil
		case opts.Module:
			return target.ScriptModule, target.LinkageDefault, nil
		case opts.Libexec:
			return target.ScriptLibexec, target.LinkageDefault, nil
		default:
			return target.ScriptExecutable, target.LinkageDefault, nil
		}

	default:
		if req == RequestLibrary {
			linkage := target.LinkageDefault
			switch {
			case opts.Static:
				linkage = target.LinkageStatic
			case opts.Shared:
				linkage = target.LinkageShared
			case opts.Module:
				linkage = target.LinkageModule
			}
			return target.NativeLibrary, linkage, nil
		}
		return target.NativeExecutable, target.LinkageDefault, nil
	}
}

// applyLocations fills in the default output directory and install
// destination for the target's kind and test status.
func (d *Dispatcher) applyLocations(t *target.Target, name string, opts Options) {
	settings := d.Project.Settings

	buildRoot := settings.BuildDir
	if t.IsTest {
		buildRoot = filepath.Join(settings.BuildDir, "Testing")
	}

	var outputSubdir, installSubdir string
	switch {
	case t.Kind == target.ScriptLibexec:
		outputSubdir = "libexec"
		installSubdir = filepath.Join("libexec", strings.ToLower(settings.Name))
	case t.Kind.IsExecutable():
		outputSubdir = "bin"
		installSubdir = "bin"
	default:
		outputSubdir = "lib"
		installSubdir = "lib"
	}

	t.OutputDir = filepath.Join(buildRoot, outputSubdir)

	switch {
	case strings.EqualFold(opts.Destination, "none"):
		t.InstallDir = ""
	case opts.Destination != "":
		t.InstallDir = filepath.Join(settings.InstallPrefix, opts.Destination)
	case t.IsTest:
		// Test targets live in the build tree only.
		t.InstallDir = ""
	default:
		t.InstallDir = filepath.Join(settings.InstallPrefix, installSubdir)
	}

	if t.InstallDir != "" {
		t.InstallComponent = opts.Component
		if t.InstallComponent == "" {
			if t.Kind.IsExecutable() {
				t.InstallComponent = "RUNTIME"
			} else {
				t.InstallComponent = "LIBRARY"
			}
		}
	}
}

func (d *Dispatcher) exportPath(t *target.Target, name string) string {
	if t.Kind.IsExecutable() {
		return filepath.Join(t.OutputDir, name)
	}
	if t.Kind == target.ScriptModule {
		return filepath.Join(t.OutputDir, name)
	}
	return t.OutputDir
}
