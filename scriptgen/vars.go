package scriptgen

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.starlark.net/starlark"

	"github.com/targon-build/targon/fs"
)

// Template variables come from Starlark sources: every string, int or
// bool global of an executed file (or inline string) becomes a
// substitutable variable. Sources are applied in a fixed order so
// later ones take precedence.

// loadVarsFile executes a Starlark variable file and folds its globals
// into vars. A missing file is an error only when required.
func loadVarsFile(fsys fs.FileSystem, path string, required bool, vars map[string]string) error {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return errors.Wrapf(err, "failed to read script configuration file %s", path)
	}
	return execVars(path, data, vars)
}

// loadVarsInline executes an inline Starlark configuration string.
func loadVarsInline(src string, vars map[string]string) error {
	return execVars("<inline>", src, vars)
}

func execVars(name string, src interface{}, vars map[string]string) error {
	thread := &starlark.Thread{Name: name}
	globals, err := starlark.ExecFile(thread, name, src, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to execute script configuration %s", name)
	}

	for key, value := range globals {
		if strings.HasPrefix(key, "_") {
			continue
		}
		switch v := value.(type) {
		case starlark.String:
			vars[key] = v.GoString()
		case starlark.Int:
			vars[key] = v.String()
		case starlark.Bool:
			if bool(v) {
				vars[key] = "1"
			} else {
				vars[key] = "0"
			}
		}
	}
	return nil
}

// Substitute replaces every @NAME@ occurrence that has a value in
// vars. Unknown markers are left untouched so later build tooling can
// flag them.
func Substitute(content string, vars map[string]string) string {
	for key, value := range vars {
		content = strings.ReplaceAll(content, fmt.Sprintf("@%s@", key), value)
	}
	return content
}
