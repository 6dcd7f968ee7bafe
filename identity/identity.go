// Package identity maps user-supplied short target names onto
// canonical, project-qualified identifiers and back. Resolution is a
// pure function of the naming convention plus the set of registered
// identifiers; an unresolved name is not an error, callers fall back
// to treating the token as an opaque external reference.
package identity

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/targon-build/targon/target"
)

// InvalidNameError reports a short name that violates the project
// naming convention.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid target name %q: %s", e.Name, e.Reason)
}

// CollisionError reports a registration whose UID already denotes a
// target of a different kind.
type CollisionError struct {
	UID      target.UID
	Existing target.Kind
	Wanted   target.Kind
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("target %s already declared as %s, cannot redeclare as %s",
		e.UID, e.Existing, e.Wanted)
}

// Convention derives qualified identifiers from short names. Short
// names are flat: a name containing path separators or the namespace
// qualifier is rejected.
type Convention struct {
	Namespace string
}

// UIDFor returns the canonical identifier for a short name. Pure.
func (c Convention) UIDFor(short string) target.UID {
	if c.Namespace == "" {
		return target.UID(short)
	}
	return target.UID(c.Namespace + "." + short)
}

// ShortName recovers the short name from a UID, the inverse of UIDFor.
func (c Convention) ShortName(uid target.UID) string {
	if c.Namespace == "" {
		return string(uid)
	}
	return strings.TrimPrefix(string(uid), c.Namespace+".")
}

// CheckName validates a short name against the convention.
func (c Convention) CheckName(short string) error {
	switch {
	case short == "":
		return &InvalidNameError{Name: short, Reason: "name is empty"}
	case strings.ContainsAny(short, "/\\"):
		return &InvalidNameError{Name: short, Reason: "name contains path separators"}
	}
	return nil
}

type entry struct {
	kind       target.Kind
	predeclare bool
}

// Registry records every UID declared during one configure run.
type Registry struct {
	convention Convention
	entries    map[target.UID]entry
}

func NewRegistry(convention Convention) *Registry {
	return &Registry{
		convention: convention,
		entries:    make(map[target.UID]entry),
	}
}

func (r *Registry) Convention() Convention { return r.convention }

// Register maps a short name to its UID, collision-checked. A
// pre-declared entry of the same kind is promoted to a full
// registration and returns the same UID; deterministic and idempotent.
// The registry is left unchanged on error.
func (r *Registry) Register(short string, kind target.Kind) (target.UID, error) {
	if err := r.convention.CheckName(short); err != nil {
		return "", err
	}
	uid := r.convention.UIDFor(short)
	if existing, ok := r.entries[uid]; ok {
		if existing.kind != kind {
			return "", &CollisionError{UID: uid, Existing: existing.kind, Wanted: kind}
		}
		if !existing.predeclare {
			return "", &CollisionError{UID: uid, Existing: existing.kind, Wanted: kind}
		}
	}
	r.entries[uid] = entry{kind: kind}
	return uid, nil
}

// PreDeclare records an externally-imported target so its name
// resolves before (or without) a full declaration.
func (r *Registry) PreDeclare(short string, kind target.Kind) (target.UID, error) {
	if err := r.convention.CheckName(short); err != nil {
		return "", err
	}
	uid := r.convention.UIDFor(short)
	if existing, ok := r.entries[uid]; ok {
		if existing.kind != kind {
			return "", &CollisionError{UID: uid, Existing: existing.kind, Wanted: kind}
		}
		return uid, nil
	}
	r.entries[uid] = entry{kind: kind, predeclare: true}
	return uid, nil
}

// Resolve maps a short name to its UID if a target with that UID has
// been registered. The second result is false for unknown names; this
// is not an error condition.
func (r *Registry) Resolve(short string) (target.UID, bool) {
	uid := r.convention.UIDFor(short)
	_, ok := r.entries[uid]
	return uid, ok
}

// Known reports whether the UID denotes a registered target.
func (r *Registry) Known(uid target.UID) bool {
	_, ok := r.entries[uid]
	return ok
}

// KindOf returns the registered kind for a UID.
func (r *Registry) KindOf(uid target.UID) (target.Kind, bool) {
	e, ok := r.entries[uid]
	return e.kind, ok
}

// UIDs returns all registered identifiers in deterministic order.
func (r *Registry) UIDs() []target.UID {
	uids := maps.Keys(r.entries)
	slices.Sort(uids)
	return uids
}
