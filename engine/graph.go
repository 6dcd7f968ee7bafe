package engine

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/targon-build/targon/fs"
	"github.com/targon-build/targon/target"
)

// Graph is an in-memory BuildGraph that records everything emitted
// into it and serializes deterministically. The CLI writes it out as
// the configure run's durable output; tests use it as a recording
// double.
type Graph struct {
	NativeTargets []NativeTarget                `json:"native_targets"`
	Steps         []Step                        `json:"steps"`
	StepDeps      map[target.UID][]target.UID   `json:"step_deps"`
	TargetDeps    map[target.UID][]target.UID   `json:"target_deps"`
	Links         map[target.UID][]string       `json:"links"`
	Installs      []InstallEntry                `json:"installs"`
	Globs         map[target.UID][]string       `json:"globs"`
	CleanupPaths  []string                      `json:"cleanup_paths"`
}

func NewGraph() *Graph {
	return &Graph{
		StepDeps:   make(map[target.UID][]target.UID),
		TargetDeps: make(map[target.UID][]target.UID),
		Links:      make(map[target.UID][]string),
		Globs:      make(map[target.UID][]string),
	}
}

func (g *Graph) CreateNativeTarget(t NativeTarget) error {
	for _, existing := range g.NativeTargets {
		if existing.UID == t.UID {
			return errors.Errorf("native target %s already exists in the build graph", t.UID)
		}
	}
	t.KindTag = t.Kind.String()
	g.NativeTargets = append(g.NativeTargets, t)
	return nil
}

func (g *Graph) AddStep(s Step) error {
	g.Steps = append(g.Steps, s)
	return nil
}

func (g *Graph) AddStepDependency(uid, dep target.UID) {
	g.StepDeps[uid] = appendUnique(g.StepDeps[uid], dep)
}

func (g *Graph) LinkTarget(uid target.UID, refs []string) {
	for _, ref := range refs {
		g.Links[uid] = appendUniqueString(g.Links[uid], ref)
	}
}

func (g *Graph) AddTargetDependency(uid, dep target.UID) {
	g.TargetDeps[uid] = appendUnique(g.TargetDeps[uid], dep)
}

func (g *Graph) InstallFile(e InstallEntry) {
	g.Installs = append(g.Installs, e)
}

func (g *Graph) RegisterGlob(uid target.UID, patterns []string) {
	g.Globs[uid] = append(g.Globs[uid], patterns...)
}

func (g *Graph) RegisterCleanup(paths []string) {
	g.CleanupPaths = append(g.CleanupPaths, paths...)
}

// StepsFor returns the recorded steps owned by a target.
func (g *Graph) StepsFor(uid target.UID) []Step {
	var steps []Step
	for _, s := range g.Steps {
		if s.Target == uid {
			steps = append(steps, s)
		}
	}
	return steps
}

// InstallsFor returns the staged install entries owned by a target.
func (g *Graph) InstallsFor(uid target.UID) []InstallEntry {
	var entries []InstallEntry
	for _, e := range g.Installs {
		if e.Target == uid {
			entries = append(entries, e)
		}
	}
	return entries
}

// Save writes the graph as indented JSON. Slices recorded in
// registration order are sorted first so the output is stable across
// runs with equal inputs.
func (g *Graph) Save(fsys fs.FileSystem, path string) error {
	sort.Strings(g.CleanupPaths)
	sort.Slice(g.Installs, func(i, j int) bool {
		if g.Installs[i].Target != g.Installs[j].Target {
			return g.Installs[i].Target < g.Installs[j].Target
		}
		return g.Installs[i].Destination < g.Installs[j].Destination
	})

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal build graph")
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write build graph to %s", path)
	}
	return nil
}

func appendUnique(list []target.UID, v target.UID) []target.UID {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueString(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
