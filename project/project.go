// Package project holds the single-writer, run-scoped state of one
// configure run: settings, the target registry, and the export
// manifests. A Project is created empty at run start, passed by
// reference to every component, and discarded at run end.
package project

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/targon-build/targon/identity"
	"github.com/targon-build/targon/target"
)

// Settings is the project-wide configuration a run starts from.
type Settings struct {
	Name      string
	Namespace string

	SourceDir     string
	BuildDir      string
	InstallPrefix string

	// TestingDir is the subtree whose targets are test-only.
	TestingDir string

	// Script template variable sources, in precedence order: the
	// global file is applied first, the project override second, so
	// project values win. Either may be empty.
	ScriptConfigFile  string
	ProjectConfigFile string

	// CompileScripts requests byte-compilation of script modules
	// project-wide; per-target options can still override.
	CompileScripts bool
}

// ExportEntry is what downstream packaging collaborators receive for
// every exported target.
type ExportEntry struct {
	UID        target.UID `json:"uid"`
	Kind       string     `json:"kind"`
	BuildPath  string     `json:"build_path"`
	InstallDir string     `json:"install_dir,omitempty"`
}

// Project is the target registry for one configure run.
type Project struct {
	Settings Settings

	registry *identity.Registry
	targets  map[target.UID]*target.Target

	exports     []ExportEntry
	testExports []ExportEntry

	finalized bool
}

func New(settings Settings) *Project {
	convention := identity.Convention{Namespace: settings.Namespace}
	return &Project{
		Settings: settings,
		registry: identity.NewRegistry(convention),
		targets:  make(map[target.UID]*target.Target),
	}
}

func (p *Project) Registry() *identity.Registry { return p.registry }

// AddTarget registers the short name and stores the target under the
// resulting UID. The registry is unchanged when registration fails.
func (p *Project) AddTarget(short string, t *target.Target) (target.UID, error) {
	uid, err := p.registry.Register(short, t.Kind)
	if err != nil {
		return "", err
	}
	t.UID = uid
	p.targets[uid] = t
	return uid, nil
}

// Target returns the declared target for a UID.
func (p *Project) Target(uid target.UID) (*target.Target, bool) {
	t, ok := p.targets[uid]
	return t, ok
}

// TargetByName resolves a short name and returns the target, if any.
func (p *Project) TargetByName(short string) (*target.Target, bool) {
	uid, ok := p.registry.Resolve(short)
	if !ok {
		return nil, false
	}
	return p.Target(uid)
}

// Targets returns all declared targets in deterministic UID order.
func (p *Project) Targets() []*target.Target {
	uids := maps.Keys(p.targets)
	slices.Sort(uids)
	out := make([]*target.Target, 0, len(uids))
	for _, uid := range uids {
		out = append(out, p.targets[uid])
	}
	return out
}

// Export records the target in the main manifest, or in the build-tree
// only test manifest for test targets.
func (p *Project) Export(t *target.Target, buildPath string) {
	entry := ExportEntry{
		UID:        t.UID,
		Kind:       t.Kind.String(),
		BuildPath:  buildPath,
		InstallDir: t.InstallDir,
	}
	if t.IsTest {
		p.testExports = append(p.testExports, entry)
	} else {
		p.exports = append(p.exports, entry)
	}
}

// Exports returns the main export manifest.
func (p *Project) Exports() []ExportEntry { return p.exports }

// TestExports returns the build-tree-only test manifest.
func (p *Project) TestExports() []ExportEntry { return p.testExports }

// ErrAlreadyFinalized guards the exactly-once finalization pass.
var ErrAlreadyFinalized = errors.New("project has already been finalized")

// MarkFinalized flips the finalized flag; the second call fails.
func (p *Project) MarkFinalized() error {
	if p.finalized {
		return ErrAlreadyFinalized
	}
	p.finalized = true
	return nil
}

func (p *Project) Finalized() bool { return p.finalized }

// IsTestPath reports whether a source directory lies under the
// designated testing subtree.
func (p *Project) IsTestPath(dir string) bool {
	if p.Settings.TestingDir == "" {
		return false
	}
	rel, err := filepath.Rel(p.Settings.TestingDir, dir)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// BuildDirFor mirrors a source directory into the build tree.
func (p *Project) BuildDirFor(sourceDir string) string {
	rel, err := filepath.Rel(p.Settings.SourceDir, sourceDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Join(p.Settings.BuildDir, filepath.Base(sourceDir))
	}
	return filepath.Join(p.Settings.BuildDir, rel)
}
