package deps

import (
	"errors"
	"testing"

	"github.com/targon-build/targon/engine"
	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/target"
)

func newTestProject(t *testing.T) *project.Project {
	t.Helper()
	return project.New(project.Settings{
		Name:      "demo",
		Namespace: "demo",
		SourceDir: "/src",
		BuildDir:  "/build",
	})
}

func declare(t *testing.T, proj *project.Project, name string, kind target.Kind) *target.Target {
	t.Helper()
	tgt := target.New("", kind)
	if _, err := proj.AddTarget(name, tgt); err != nil {
		t.Fatalf("failed to declare %s: %v", name, err)
	}
	return tgt
}

func rawTokens(tokens []target.DependencyToken) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Raw
	}
	return out
}

func TestAddLinkLibrariesNativeForwardsToEngine(t *testing.T) {
	proj := newTestProject(t)
	graph := engine.NewGraph()
	r := New(proj, graph)

	lib := declare(t, proj, "corelib", target.NativeLibrary)
	exe := declare(t, proj, "tool", target.NativeExecutable)

	if err := r.AddLinkLibraries(exe, []string{"corelib", "-lm"}); err != nil {
		t.Fatalf("AddLinkLibraries failed: %v", err)
	}

	refs := graph.Links[exe.UID]
	if len(refs) != 2 {
		t.Fatalf("expected 2 link refs, got %v", refs)
	}
	if refs[0] != string(lib.UID) {
		t.Errorf("resolved token not forwarded as UID: %v", refs)
	}
	if refs[1] != "-lm" {
		t.Errorf("opaque token not passed through: %v", refs)
	}
	if len(exe.LinkDeps) != 0 {
		t.Error("native target grew an explicit link-dependency list")
	}
}

func TestAddLinkLibrariesScriptMaintainsList(t *testing.T) {
	proj := newTestProject(t)
	r := New(proj, engine.NewGraph())

	lib := declare(t, proj, "helpers", target.ScriptLibrary)
	script := declare(t, proj, "tool", target.ScriptExecutable)

	if err := r.AddLinkLibraries(script, []string{"helpers", "libxml2"}); err != nil {
		t.Fatalf("AddLinkLibraries failed: %v", err)
	}

	if len(script.LinkDeps) != 2 {
		t.Fatalf("expected 2 link deps, got %v", script.LinkDeps)
	}
	if script.LinkDeps[0].UID != lib.UID {
		t.Errorf("declared target token not resolved: %v", script.LinkDeps[0])
	}
	if script.LinkDeps[1].Resolved() {
		t.Errorf("opaque token resolved unexpectedly: %v", script.LinkDeps[1])
	}
}

func TestUnknownTargetError(t *testing.T) {
	proj := newTestProject(t)
	r := New(proj, engine.NewGraph())

	script := declare(t, proj, "tool", target.ScriptExecutable)

	err := r.AddLinkLibraries(script, []string{TargetMarker + "missing"})
	var unknown *UnknownTargetError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTargetError, got %v", err)
	}
	if unknown.Token != "missing" {
		t.Errorf("error names token %q", unknown.Token)
	}
}

func TestCloseOverTransitive(t *testing.T) {
	proj := newTestProject(t)
	r := New(proj, engine.NewGraph())

	c := declare(t, proj, "c", target.NativeLibrary)
	_ = c
	b := declare(t, proj, "b", target.NativeLibrary)
	if err := b.SetProperty(LinkDependsProperty, "c"); err != nil {
		t.Fatal(err)
	}
	a := declare(t, proj, "a", target.NativeLibrary)
	if err := a.SetProperty(LinkDependsProperty, "b"); err != nil {
		t.Fatal(err)
	}

	x := declare(t, proj, "x", target.ScriptExecutable)
	if err := r.AddLinkLibraries(x, []string{"a"}); err != nil {
		t.Fatal(err)
	}

	closure, err := r.CloseOver(x)
	if err != nil {
		t.Fatalf("CloseOver failed: %v", err)
	}

	got := rawTokens(closure)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("closure = %v, want %v", got, want)
		}
	}
}

func TestCloseOverIdempotent(t *testing.T) {
	proj := newTestProject(t)
	r := New(proj, engine.NewGraph())

	b := declare(t, proj, "b", target.NativeLibrary)
	b.SetProperty(LinkDependsProperty, "-lz")
	x := declare(t, proj, "x", target.ScriptExecutable)
	if err := r.AddLinkLibraries(x, []string{"b", "z"}); err != nil {
		t.Fatal(err)
	}

	first, err := r.CloseOver(x)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.CloseOver(x)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("closure not idempotent: %v then %v", rawTokens(first), rawTokens(second))
	}
	for i := range first {
		if first[i].Raw != second[i].Raw {
			t.Fatalf("closure not idempotent: %v then %v", rawTokens(first), rawTokens(second))
		}
	}
}

func TestCloseOverNormalizesLinkerFlagSigil(t *testing.T) {
	proj := newTestProject(t)
	r := New(proj, engine.NewGraph())

	b := declare(t, proj, "b", target.NativeLibrary)
	b.SetProperty(LinkDependsProperty, "-lpng")
	x := declare(t, proj, "x", target.ScriptExecutable)
	if err := r.AddLinkLibraries(x, []string{"b", "png"}); err != nil {
		t.Fatal(err)
	}

	closure, err := r.CloseOver(x)
	if err != nil {
		t.Fatal(err)
	}
	if len(closure) != 2 {
		t.Errorf("sigil-prefixed duplicate not unified: %v", rawTokens(closure))
	}
}

func TestCloseOverExactEqualityKeepsDecoratedTokens(t *testing.T) {
	proj := newTestProject(t)
	r := New(proj, engine.NewGraph())
	r.Equality = ExactTokens

	b := declare(t, proj, "b", target.NativeLibrary)
	b.SetProperty(LinkDependsProperty, "-lpng")
	x := declare(t, proj, "x", target.ScriptExecutable)
	if err := r.AddLinkLibraries(x, []string{"b", "png"}); err != nil {
		t.Fatal(err)
	}

	closure, err := r.CloseOver(x)
	if err != nil {
		t.Fatal(err)
	}
	if len(closure) != 3 {
		t.Errorf("exact equality unified decorated tokens: %v", rawTokens(closure))
	}
}

func TestCloseOverDropsSelfDependency(t *testing.T) {
	proj := newTestProject(t)
	r := New(proj, engine.NewGraph())

	b := declare(t, proj, "b", target.NativeLibrary)
	b.SetProperty(LinkDependsProperty, "x")
	x := declare(t, proj, "x", target.ScriptExecutable)
	if err := r.AddLinkLibraries(x, []string{"b"}); err != nil {
		t.Fatal(err)
	}

	closure, err := r.CloseOver(x)
	if err != nil {
		t.Fatal(err)
	}
	for _, tok := range closure {
		if tok.UID == x.UID {
			t.Errorf("closure contains the target itself: %v", rawTokens(closure))
		}
	}
}
