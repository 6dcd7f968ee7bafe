// Package engine defines the narrow interface this orchestration layer
// uses to talk to the underlying native build-graph engine. The core
// emits into an execution-graph representation; it never executes
// anything itself.
package engine

import (
	"github.com/targon-build/targon/target"
)

// Step is one synthesized build step: a command with declared inputs
// and outputs, attributed to the target that owns it.
type Step struct {
	Target      target.UID `json:"target"`
	Description string     `json:"description"`
	Inputs      []string   `json:"inputs"`
	Outputs     []string   `json:"outputs"`
	Command     []string   `json:"command"`
}

// InstallEntry stages one file for installation into the deploy prefix.
type InstallEntry struct {
	Target      target.UID `json:"target"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Component   string     `json:"component,omitempty"`
	Executable  bool       `json:"executable,omitempty"`
}

// NativeTarget mirrors the engine's own target primitive for kinds the
// native toolchain builds directly.
type NativeTarget struct {
	UID     target.UID     `json:"uid"`
	Kind    target.Kind    `json:"-"`
	KindTag string         `json:"kind"`
	Linkage target.Linkage `json:"-"`
	Sources []string       `json:"sources"`
}

// BuildGraph is the execution-graph surface consumed from the native
// engine. Implementations must record deterministically.
type BuildGraph interface {
	// CreateNativeTarget hands a natively-compiled target straight to
	// the engine's own compiler/linker primitives.
	CreateNativeTarget(t NativeTarget) error

	// AddStep records one synthesized build step.
	AddStep(s Step) error

	// AddStepDependency orders uid's build step after dep's.
	AddStepDependency(uid, dep target.UID)

	// LinkTarget forwards link references for a native target; refs
	// may be UIDs or opaque external library names.
	LinkTarget(uid target.UID, refs []string)

	// AddTargetDependency records a plain target-level ordering edge.
	AddTargetDependency(uid, dep target.UID)

	// InstallFile stages an install-time copy.
	InstallFile(e InstallEntry)

	// RegisterGlob arranges for the pattern set to be re-expanded
	// before subsequent builds, since source sets declared by pattern
	// may change between runs.
	RegisterGlob(uid target.UID, patterns []string)

	// RegisterCleanup marks generated paths for removal on rebuild.
	RegisterCleanup(paths []string)
}
