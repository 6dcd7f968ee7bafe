package scriptgen

import (
	"errors"
	"strings"
	"testing"

	"github.com/targon-build/targon/deps"
	"github.com/targon-build/targon/engine"
	"github.com/targon-build/targon/fs/mock"
	"github.com/targon-build/targon/language"
	"github.com/targon-build/targon/project"
	"github.com/targon-build/targon/target"
)

type fixture struct {
	proj  *project.Project
	fsys  *mock.MockFileSystem
	graph *engine.Graph
	gen   *Generator
}

func newFixture(t *testing.T, settings project.Settings) *fixture {
	t.Helper()
	if settings.SourceDir == "" {
		settings.SourceDir = "/src"
	}
	if settings.BuildDir == "" {
		settings.BuildDir = "/build"
	}
	proj := project.New(settings)
	fsys := mock.NewMockFileSystem()
	graph := engine.NewGraph()
	resolver := deps.New(proj, graph)
	cache := NewVarCache(fsys, "/build/vars.json")
	return &fixture{
		proj:  proj,
		fsys:  fsys,
		graph: graph,
		gen:   New(proj, fsys, graph, resolver, cache),
	}
}

func (f *fixture) declare(t *testing.T, name string, kind target.Kind, lang language.Language, sources ...string) *target.Target {
	t.Helper()
	tgt := target.New("", kind)
	tgt.Language = lang
	tgt.SourceDir = "/src"
	tgt.BuildDir = "/build"
	tgt.OutputDir = "/build/bin"
	tgt.InstallDir = "/opt/demo/bin"
	tgt.SourcePatterns = sources
	tgt.Sources = sources
	if _, err := f.proj.AddTarget(name, tgt); err != nil {
		t.Fatalf("failed to declare %s: %v", name, err)
	}
	return tgt
}

func TestGenerateScriptExecutable(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo", Namespace: "demo"})
	f.fsys.Files["/src/hello.py"] = []byte("print('hi')\n")

	tgt := f.declare(t, "hello", target.ScriptExecutable, language.Python, "/src/hello.py")

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if tgt.State != target.StateGenerated {
		t.Error("target not moved to the generated state")
	}

	steps := f.graph.StepsFor(tgt.UID)
	if len(steps) != 1 {
		t.Fatalf("expected 1 build step, got %d", len(steps))
	}
	if steps[0].Outputs[0] != "/build/bin/hello.py" {
		t.Errorf("build output = %v", steps[0].Outputs)
	}
	if _, ok := f.fsys.Files["/build/bin/hello.py"]; !ok {
		t.Error("build-tree artifact not written")
	}

	installs := f.graph.InstallsFor(tgt.UID)
	if len(installs) != 1 {
		t.Fatalf("expected 1 install entry, got %d", len(installs))
	}
	if installs[0].Destination != "/opt/demo/bin/hello.py" {
		t.Errorf("install destination = %s", installs[0].Destination)
	}
	if !installs[0].Executable {
		t.Error("executable install entry not marked executable")
	}

	if len(f.graph.CleanupPaths) == 0 {
		t.Error("generated paths not registered for cleanup")
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo"})
	f.fsys.Files["/src/hello.py"] = []byte("")

	tgt := f.declare(t, "hello", target.ScriptExecutable, language.Python, "/src/hello.py")

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}
	before := len(f.graph.Steps)

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}
	if len(f.graph.Steps) != before {
		t.Errorf("second generation emitted steps: %d -> %d", before, len(f.graph.Steps))
	}
}

func TestGenerateDisabledInstall(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo"})
	f.fsys.Files["/src/hello.py"] = []byte("")

	tgt := f.declare(t, "hello", target.ScriptExecutable, language.Python, "/src/hello.py")
	tgt.InstallDir = ""

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}

	if got := len(f.graph.InstallsFor(tgt.UID)); got != 0 {
		t.Errorf("disabled install produced %d install entries", got)
	}
	if got := len(f.graph.StepsFor(tgt.UID)); got != 1 {
		t.Errorf("build-tree step missing: %d steps", got)
	}
}

func TestGenerateTemplateSubstitution(t *testing.T) {
	f := newFixture(t, project.Settings{
		Name:              "demo",
		ScriptConfigFile:  "/src/script.defaults.star",
		ProjectConfigFile: "/src/script.local.star",
	})
	f.fsys.Files["/src/script.defaults.star"] = []byte("GREETING = 'hello'\nCHANNEL = 'stable'\n")
	f.fsys.Files["/src/script.local.star"] = []byte("CHANNEL = 'dev'\n")
	f.fsys.Files["/src/tool.py.in"] = []byte("print('@GREETING@ from @CHANNEL@ by @WHO@')\n")

	tgt := f.declare(t, "tool", target.ScriptExecutable, language.Python, "/src/tool.py.in")
	if err := tgt.SetProperty(ConfigProperty, "WHO = 'inline'"); err != nil {
		t.Fatal(err)
	}

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}

	// The template suffix is stripped from the output name.
	got, ok := f.fsys.Files["/build/bin/tool.py"]
	if !ok {
		t.Fatalf("substituted output missing; files: %v", f.fsys.Files)
	}
	want := "print('hello from dev by inline')\n"
	if string(got) != want {
		t.Errorf("substituted content = %q, want %q", got, want)
	}
}

func TestGenerateInlineConfigOverridesFiles(t *testing.T) {
	f := newFixture(t, project.Settings{
		Name:             "demo",
		ScriptConfigFile: "/src/defaults.star",
	})
	f.fsys.Files["/src/defaults.star"] = []byte("VALUE = 'file'\n")
	f.fsys.Files["/src/t.sh.in"] = []byte("echo @VALUE@\n")

	tgt := f.declare(t, "t", target.ScriptExecutable, language.Bash, "/src/t.sh.in")
	if err := tgt.SetProperty(ConfigProperty, "VALUE = 'inline'"); err != nil {
		t.Fatal(err)
	}

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}

	if got := string(f.fsys.Files["/build/bin/t.sh"]); got != "echo inline\n" {
		t.Errorf("inline configuration did not win: %q", got)
	}
}

func TestGenerateRequiredConfigFileMissing(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo"})
	f.fsys.Files["/src/t.py"] = []byte("")

	tgt := f.declare(t, "t", target.ScriptExecutable, language.Python, "/src/t.py")
	if err := tgt.SetProperty(ConfigFileProperty, "/src/missing.star"); err != nil {
		t.Fatal(err)
	}

	err := f.gen.Generate(tgt)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if genErr.UID != tgt.UID {
		t.Errorf("error names target %s", genErr.UID)
	}
}

func TestGenerateNamespacedModule(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo", Namespace: "acme.toolkit"})
	f.fsys.Files["/src/utils.py"] = []byte("")

	tgt := f.declare(t, "utils.py", target.ScriptModule, language.Python, "/src/utils.py")
	tgt.OutputDir = "/build/lib"
	tgt.InstallDir = "/opt/demo/lib"

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}

	if _, ok := f.fsys.Files["/build/lib/acme/toolkit/utils.py"]; !ok {
		t.Errorf("namespace prefix not applied; files: %v", f.fsys.Files)
	}
	installs := f.graph.InstallsFor(tgt.UID)
	if len(installs) != 1 || installs[0].Destination != "/opt/demo/lib/acme/toolkit/utils.py" {
		t.Errorf("install destination = %v", installs)
	}
}

func TestGenerateByteCompilation(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo", CompileScripts: true})
	f.fsys.Files["/src/mod.py"] = []byte("")

	tgt := f.declare(t, "mod.py", target.ScriptModule, language.Python, "/src/mod.py")
	tgt.OutputDir = "/build/lib"
	tgt.InstallDir = "/opt/demo/lib"

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}

	steps := f.graph.StepsFor(tgt.UID)
	if len(steps) != 2 {
		t.Fatalf("expected substitution and compile steps, got %d", len(steps))
	}
	if steps[1].Outputs[0] != "/build/lib/mod.pyc" {
		t.Errorf("compiled artifact = %v", steps[1].Outputs)
	}

	installs := f.graph.InstallsFor(tgt.UID)
	if len(installs) != 2 {
		t.Fatalf("expected source and compiled installs, got %v", installs)
	}
}

func TestGenerateExecutablesAreNotCompiled(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo", CompileScripts: true})
	f.fsys.Files["/src/run.py"] = []byte("")

	tgt := f.declare(t, "run", target.ScriptExecutable, language.Python, "/src/run.py")

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}
	if got := len(f.graph.StepsFor(tgt.UID)); got != 1 {
		t.Errorf("executable gained a compile step: %d steps", got)
	}
}

func TestGenerateOrdersAfterResolvedDeps(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo", Namespace: "demo"})
	f.fsys.Files["/src/lib.py"] = []byte("")
	f.fsys.Files["/src/app.py"] = []byte("")

	lib := f.declare(t, "corelib", target.ScriptLibrary, language.Python, "/src/lib.py")
	lib.OutputDir = "/build/lib"
	lib.InstallDir = "/opt/demo/lib"

	app := f.declare(t, "app", target.ScriptExecutable, language.Python, "/src/app.py")
	if err := f.gen.Resolver.AddLinkLibraries(app, []string{"corelib", "readline"}); err != nil {
		t.Fatal(err)
	}

	if err := f.gen.Generate(app); err != nil {
		t.Fatal(err)
	}

	stepDeps := f.graph.StepDeps[app.UID]
	if len(stepDeps) != 1 || stepDeps[0] != lib.UID {
		t.Errorf("step deps = %v, want [%s]", stepDeps, lib.UID)
	}

	vars, ok := f.gen.Cache.Entry(app.UID)
	if !ok {
		t.Fatal("variable cache has no entry for the target")
	}
	if vars["CORELIB_DIR"] != "/opt/demo/lib" {
		t.Errorf("dependency search-path variable = %q", vars["CORELIB_DIR"])
	}
}

func TestGenerateReglobsSources(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo"})
	f.fsys.Files["/src/pkg/a.py"] = []byte("")

	tgt := f.declare(t, "pkg", target.ScriptLibrary, language.Python, "/src/pkg/*.py")
	tgt.OutputDir = "/build/lib"
	tgt.InstallDir = ""
	tgt.Sources = []string{"/src/pkg/a.py"}

	// A file added after declaration must still be picked up.
	f.fsys.Files["/src/pkg/b.py"] = []byte("")

	if err := f.gen.Generate(tgt); err != nil {
		t.Fatal(err)
	}
	if got := len(f.graph.StepsFor(tgt.UID)); got != 2 {
		t.Errorf("re-glob missed the new file: %d steps", got)
	}
}

func TestSubstituteLeavesUnknownMarkers(t *testing.T) {
	got := Substitute("a @KNOWN@ and @UNKNOWN@", map[string]string{"KNOWN": "value"})
	if got != "a value and @UNKNOWN@" {
		t.Errorf("Substitute = %q", got)
	}
}

func TestVarCacheRoundTrip(t *testing.T) {
	fsys := mock.NewMockFileSystem()

	cache := NewVarCache(fsys, "/build/vars.json")
	cache.Record("demo.tool", map[string]string{"A": "1"})
	if err := cache.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := NewVarCache(fsys, "/build/vars.json")
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	vars, ok := reloaded.Entry("demo.tool")
	if !ok || vars["A"] != "1" {
		t.Errorf("reloaded entry = %v, %v", vars, ok)
	}
}

func TestVarCacheMissingFileIsFirstRun(t *testing.T) {
	cache := NewVarCache(mock.NewMockFileSystem(), "/build/vars.json")
	if err := cache.Load(); err != nil {
		t.Errorf("missing cache treated as an error: %v", err)
	}
}

func TestGenerateWrongKind(t *testing.T) {
	f := newFixture(t, project.Settings{Name: "demo"})
	f.fsys.Files["/src/solver.m"] = []byte("")

	tgt := f.declare(t, "solver", target.CrossExecutable, language.Matlab, "/src/solver.m")

	err := f.gen.Generate(tgt)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError for a cross target, got %v", err)
	}
	if !strings.Contains(genErr.Error(), "script pipeline") {
		t.Errorf("error = %v", genErr)
	}
}
