package scriptgen

import (
	"github.com/pkg/errors"

	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/target"
)

// TargetGenerator synthesizes build commands for one class of deferred
// target. The script pipeline implements it; a cross-compilation
// generator can be registered alongside.
type TargetGenerator interface {
	Generate(t *target.Target) error
}

// Class partitions command-generating kinds by the generator that
// handles them.
type Class int

const (
	ClassScript Class = iota
	ClassCross
)

func classOf(kind target.Kind) Class {
	if kind.IsCross() {
		return ClassCross
	}
	return ClassScript
}

// Finalizer runs the single deferred pass that turns every declared
// command-generating target into concrete build steps. It must run
// exactly once per configure run, after all declarations.
type Finalizer struct {
	Project    *project.Project
	generators map[Class]TargetGenerator
}

func NewFinalizer(p *project.Project) *Finalizer {
	return &Finalizer{
		Project:    p,
		generators: make(map[Class]TargetGenerator),
	}
}

// RegisterGenerator installs the generator for a target class.
func (f *Finalizer) RegisterGenerator(class Class, gen TargetGenerator) {
	f.generators[class] = gen
}

// FinalizeAll walks the registry in dependency order and generates
// every declared command-generating target. The first generator error
// aborts the pass; a registry with no pending targets is a no-op.
// Calling FinalizeAll twice is an error.
func (f *Finalizer) FinalizeAll() error {
	if err := f.Project.MarkFinalized(); err != nil {
		return err
	}

	for _, t := range f.order() {
		if !t.Kind.GeneratesCommands() || t.State != target.StateDeclared {
			continue
		}
		gen, ok := f.generators[classOf(t.Kind)]
		if !ok {
			return &GenerationError{UID: t.UID, Op: "finalize",
				Err: errors.Errorf("no generator registered for %s targets", t.Kind)}
		}
		if err := gen.Generate(t); err != nil {
			return err
		}
	}
	return nil
}

// order returns all targets depth-first along resolved link-dependency
// edges, dependencies before dependents, so generated steps can refer
// to their dependencies' outputs. Registry order breaks ties, keeping
// the walk deterministic.
func (f *Finalizer) order() []*target.Target {
	visited := make(map[target.UID]bool)
	var out []*target.Target

	var visit func(t *target.Target)
	visit = func(t *target.Target) {
		if visited[t.UID] {
			return
		}
		visited[t.UID] = true

		for _, tok := range t.LinkDeps {
			if !tok.Resolved() {
				continue
			}
			if dep, ok := f.Project.Target(tok.UID); ok {
				visit(dep)
			}
		}

		out = append(out, t)
	}

	for _, t := range f.Project.Targets() {
		visit(t)
	}
	return out
}
