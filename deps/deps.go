// Package deps resolves dependency tokens against the target registry
// and computes the transitive implicit link closure for targets whose
// build commands are synthesized instead of handled by the native
// linker.
package deps

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/targon-build/targon/engine"
	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/target"
)

// TargetMarker prefixes a token the caller asserts must resolve to a
// declared target; failure to resolve such a token is an error rather
// than an opaque pass-through.
const TargetMarker = "target:"

// LinkDependsProperty is the metadata key under which a previously
// declared library target records its own implicit dependencies,
// semicolon-separated.
const LinkDependsProperty = "LINK_DEPENDS"

// linkerFlagSigil is the prefix stripped when comparing tokens under
// normalized equality.
const linkerFlagSigil = "-l"

// Equality selects how tokens are compared during deduplication: by
// exact text, or normalized with the linker-flag sigil stripped.
type Equality int

const (
	NormalizedTokens Equality = iota
	ExactTokens
)

// UnknownTargetError reports a token declared to be a target that is
// absent from the registry.
type UnknownTargetError struct {
	UID   target.UID
	Token string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("target %s: dependency %q was declared to be a target but no such target exists", e.UID, e.Token)
}

// Resolver wires dependency tokens into targets and the engine.
type Resolver struct {
	Project  *project.Project
	Engine   engine.BuildGraph
	Equality Equality
}

func New(p *project.Project, eng engine.BuildGraph) *Resolver {
	return &Resolver{Project: p, Engine: eng, Equality: NormalizedTokens}
}

func (r *Resolver) key(raw string) string {
	if r.Equality == NormalizedTokens {
		return strings.TrimPrefix(raw, linkerFlagSigil)
	}
	return raw
}

// resolveToken attempts registry resolution for one raw token.
func (r *Resolver) resolveToken(owner target.UID, raw string) (target.DependencyToken, error) {
	mustResolve := strings.HasPrefix(raw, TargetMarker)
	name := strings.TrimPrefix(raw, TargetMarker)

	if uid, ok := r.Project.Registry().Resolve(r.key(name)); ok {
		return target.DependencyToken{Raw: name, UID: uid}, nil
	}
	if mustResolve {
		return target.DependencyToken{}, &UnknownTargetError{UID: owner, Token: name}
	}
	return target.DependencyToken{Raw: name}, nil
}

// AddDependencies records ordering dependencies. Resolved tokens become
// target-level edges in the engine graph; for command-generating
// targets they also join the link-dependency list so finalization can
// order build steps.
func (r *Resolver) AddDependencies(t *target.Target, tokens []string) error {
	for _, raw := range tokens {
		tok, err := r.resolveToken(t.UID, raw)
		if err != nil {
			return err
		}
		if tok.Resolved() {
			r.Engine.AddTargetDependency(t.UID, tok.UID)
		}
		if t.Kind.GeneratesCommands() {
			t.AppendLinkDep(tok)
		}
	}
	return nil
}

// AddLinkLibraries records link dependencies. Native targets forward
// straight to the engine's link primitive; command-generating targets
// maintain an explicit list consumed by the closure computation.
func (r *Resolver) AddLinkLibraries(t *target.Target, tokens []string) error {
	var refs []string
	for _, raw := range tokens {
		tok, err := r.resolveToken(t.UID, raw)
		if err != nil {
			return err
		}
		if t.Kind.GeneratesCommands() {
			t.AppendLinkDep(tok)
			continue
		}
		if tok.Resolved() {
			refs = append(refs, string(tok.UID))
			r.Engine.AddTargetDependency(t.UID, tok.UID)
		} else {
			refs = append(refs, tok.Raw)
		}
	}
	if len(refs) > 0 {
		r.Engine.LinkTarget(t.UID, refs)
	}
	return nil
}

// CloseOver computes the transitive implicit closure of the target's
// link dependencies: every resolved dependency's own recorded implicit
// list is folded in, repeatedly, until no new entry appears. The final
// set is sorted so builds consume a deterministic list; running the
// computation twice yields the same set. Self-dependencies and
// duplicates are dropped silently.
func (r *Resolver) CloseOver(t *target.Target) ([]target.DependencyToken, error) {
	seen := make(map[string]target.DependencyToken)
	selfKey := r.key(r.Project.Registry().Convention().ShortName(t.UID))

	var pending []target.DependencyToken
	add := func(tok target.DependencyToken) {
		k := r.key(tok.Raw)
		if k == selfKey || string(tok.UID) == string(t.UID) {
			return
		}
		if existing, ok := seen[k]; ok {
			if !existing.Resolved() && tok.Resolved() {
				seen[k] = tok
			}
			return
		}
		seen[k] = tok
		pending = append(pending, tok)
	}

	for _, tok := range t.LinkDeps {
		add(tok)
	}

	// Fixed point: pulling one dependency's implicit list may expose
	// targets whose own lists have not been visited yet.
	for len(pending) > 0 {
		tok := pending[0]
		pending = pending[1:]

		if !tok.Resolved() {
			continue
		}
		dep, ok := r.Project.Target(tok.UID)
		if !ok {
			// Pre-declared (imported) target with no local body; it
			// carries no implicit list.
			continue
		}

		for _, implicit := range implicitDeps(dep) {
			next, err := r.resolveToken(t.UID, implicit)
			if err != nil {
				return nil, err
			}
			add(next)
		}
	}

	out := make([]target.DependencyToken, 0, len(seen))
	for _, tok := range seen {
		out = append(out, tok)
	}
	slices.SortFunc(out, func(a, b target.DependencyToken) int {
		return strings.Compare(r.key(a.Raw), r.key(b.Raw))
	})

	t.LinkDeps = out
	return out, nil
}

// implicitDeps reads the dependency metadata recorded on an already
// declared target: the LINK_DEPENDS property if present, otherwise the
// target's own link-dependency list.
func implicitDeps(dep *target.Target) []string {
	if raw, ok := dep.Property(LinkDependsProperty); ok {
		var out []string
		for _, item := range strings.Split(raw, ";") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	out := make([]string, 0, len(dep.LinkDeps))
	for _, tok := range dep.LinkDeps {
		out = append(out, tok.Raw)
	}
	return out
}
