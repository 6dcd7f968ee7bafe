// Package config parses the Starlark project file (targon.star) into
// run settings and an ordered list of target declarations.
package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.starlark.net/starlark"

	"github.com/targon-build/targon/fs"
)

// ModuleCache is used to store loaded Starlark modules
type ModuleCache struct {
	modules map[string]starlark.StringDict
	mutex   sync.RWMutex
}

// NewModuleCache creates a new ModuleCache
func NewModuleCache() *ModuleCache {
	return &ModuleCache{
		modules: make(map[string]starlark.StringDict),
	}
}

// Get retrieves a module from the cache
func (mc *ModuleCache) Get(key string) (starlark.StringDict, bool) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	module, ok := mc.modules[key]
	return module, ok
}

// Set stores a module in the cache
func (mc *ModuleCache) Set(key string, module starlark.StringDict) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.modules[key] = module
}

// Settings mirrors the `project` dict of the project file.
type Settings struct {
	Name          string
	Namespace     string
	SourceDir     string
	BuildDir      string
	InstallPrefix string
	TestingDir    string

	ScriptConfigFile  string
	ProjectConfigFile string
	CompileScripts    bool
}

// TargetDecl is one entry of the `targets` dict, ready for dispatch.
type TargetDecl struct {
	Name    string
	Kind    string
	Sources []string

	// Deps are ordering dependencies, Link are link libraries. Both
	// may name declared targets or opaque external references.
	Deps []string
	Link []string

	Language    string
	Static      bool
	Shared      bool
	Module      bool
	Libexec     bool
	Destination string
	Component   string
	NoExport    bool
	Test        bool
	Compile     bool

	// Config is an inline Starlark variable string; ConfigFile names a
	// required per-target variable file.
	Config     string
	ConfigFile string

	SourceDir string
}

// ProjectFile is the parsed form of targon.star.
type ProjectFile struct {
	Settings Settings
	Targets  []TargetDecl
}

func loadModule(fsys fs.FileSystem, cache *ModuleCache) func(*starlark.Thread, string) (starlark.StringDict, error) {
	return func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
		if cachedModule, ok := cache.Get(module); ok {
			return cachedModule, nil
		}

		filename := module
		if !filepath.IsAbs(filename) {
			filename = filepath.Join(filepath.Dir(thread.Name), filename)
		}
		data, err := fsys.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		globals, err := starlark.ExecFile(thread, filename, data, nil)
		if err != nil {
			return nil, err
		}

		cache.Set(module, globals)
		return globals, nil
	}
}

// ParseProjectFile executes the project file and extracts settings and
// target declarations. Target order follows the file.
func ParseProjectFile(fsys fs.FileSystem, filename string) (*ProjectFile, error) {
	data, err := fsys.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read project file %s", filename)
	}

	thread := &starlark.Thread{
		Name: filename,
		Load: loadModule(fsys, NewModuleCache()),
	}
	globals, err := starlark.ExecFile(thread, filename, data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute project file")
	}

	pf := &ProjectFile{}

	if projectValue, ok := globals["project"]; ok {
		projectDict, ok := projectValue.(*starlark.Dict)
		if !ok {
			return nil, errors.New("global 'project' object is not a dictionary")
		}
		if err := parseSettings(projectDict, &pf.Settings); err != nil {
			return nil, err
		}
	}

	targetsValue, ok := globals["targets"]
	if !ok {
		return nil, errors.New("global 'targets' object not found in project file")
	}
	targetsDict, ok := targetsValue.(*starlark.Dict)
	if !ok {
		return nil, errors.New("global 'targets' object is not a dictionary")
	}

	for _, item := range targetsDict.Items() {
		name, ok := item.Index(0).(starlark.String)
		if !ok {
			return nil, errors.Errorf("target name %v is not a string", item.Index(0))
		}
		dict, ok := item.Index(1).(*starlark.Dict)
		if !ok {
			return nil, errors.Errorf("target %s is not a dictionary", name.GoString())
		}
		decl, err := parseTargetDecl(name.GoString(), dict)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse target %s", name.GoString())
		}
		pf.Targets = append(pf.Targets, decl)
	}

	return pf, nil
}

func parseSettings(dict *starlark.Dict, s *Settings) error {
	fields := []struct {
		key string
		dst *string
	}{
		{"name", &s.Name},
		{"namespace", &s.Namespace},
		{"source_dir", &s.SourceDir},
		{"build_dir", &s.BuildDir},
		{"install_prefix", &s.InstallPrefix},
		{"testing_dir", &s.TestingDir},
		{"script_config", &s.ScriptConfigFile},
		{"project_config", &s.ProjectConfigFile},
	}
	for _, f := range fields {
		if v, ok, err := getStringValue(dict, f.key); err != nil {
			return err
		} else if ok {
			*f.dst = v
		}
	}
	if v, ok, err := getBooleanValue(dict, "compile_scripts"); err != nil {
		return err
	} else if ok {
		s.CompileScripts = v
	}
	return nil
}

func parseTargetDecl(name string, dict *starlark.Dict) (TargetDecl, error) {
	decl := TargetDecl{Name: name, Kind: "executable"}

	strFields := []struct {
		key string
		dst *string
	}{
		{"kind", &decl.Kind},
		{"language", &decl.Language},
		{"destination", &decl.Destination},
		{"component", &decl.Component},
		{"config", &decl.Config},
		{"config_file", &decl.ConfigFile},
		{"source_dir", &decl.SourceDir},
	}
	for _, f := range strFields {
		if v, ok, err := getStringValue(dict, f.key); err != nil {
			return decl, err
		} else if ok {
			*f.dst = v
		}
	}

	listFields := []struct {
		key string
		dst *[]string
	}{
		{"sources", &decl.Sources},
		{"deps", &decl.Deps},
		{"link", &decl.Link},
	}
	for _, f := range listFields {
		if v, ok, err := getStringList(dict, f.key); err != nil {
			return decl, err
		} else if ok {
			*f.dst = v
		}
	}

	boolFields := []struct {
		key string
		dst *bool
	}{
		{"static", &decl.Static},
		{"shared", &decl.Shared},
		{"module", &decl.Module},
		{"libexec", &decl.Libexec},
		{"no_export", &decl.NoExport},
		{"test", &decl.Test},
		{"compile", &decl.Compile},
	}
	for _, f := range boolFields {
		if v, ok, err := getBooleanValue(dict, f.key); err != nil {
			return decl, err
		} else if ok {
			*f.dst = v
		}
	}

	return decl, nil
}

func getBooleanValue(dict *starlark.Dict, key string) (bool, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return false, false, err
	}

	boolValue, ok := value.(starlark.Bool)
	if !ok {
		return false, false, fmt.Errorf("expected bool for key %s, got %T", key, value)
	}

	return bool(boolValue), true, nil
}

func getStringValue(dict *starlark.Dict, key string) (string, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return "", false, err
	}

	strValue, ok := value.(starlark.String)
	if !ok {
		return "", false, fmt.Errorf("expected string for key %s, got %T", key, value)
	}

	return strValue.GoString(), true, nil
}

func getStringList(dict *starlark.Dict, key string) ([]string, bool, error) {
	value, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return nil, false, err
	}

	list, ok := value.(*starlark.List)
	if !ok {
		return nil, false, fmt.Errorf("expected list for key %s, got %T", key, value)
	}

	var result []string
	iter := list.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		str, ok := x.(starlark.String)
		if !ok {
			return nil, false, fmt.Errorf("expected string in list for key %s, got %T", key, x)
		}
		result = append(result, str.GoString())
	}

	return result, true, nil
}
