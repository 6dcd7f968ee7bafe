package scriptgen

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/targon-build/targon/fs"
	"github.com/targon-build/targon/target"
)

// VarCache persists the resolved template variables of every generated
// target, keyed by UID, so incremental runs can detect configuration
// drift without re-reading the variable sources.
type VarCache struct {
	fs      fs.FileSystem
	path    string
	entries map[target.UID]map[string]string
}

func NewVarCache(fsys fs.FileSystem, path string) *VarCache {
	return &VarCache{
		fs:      fsys,
		path:    path,
		entries: make(map[target.UID]map[string]string),
	}
}

func (c *VarCache) Load() error {
	data, err := c.fs.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // first run, nothing cached yet
		}
		return errors.Wrapf(err, "failed to read variable cache %s", c.path)
	}
	return errors.Wrapf(json.Unmarshal(data, &c.entries), "failed to parse variable cache %s", c.path)
}

func (c *VarCache) Save() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal variable cache")
	}
	return errors.Wrapf(c.fs.WriteFile(c.path, data, 0644), "failed to write variable cache %s", c.path)
}

// Record stores the resolved variable map of one target.
func (c *VarCache) Record(uid target.UID, vars map[string]string) {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	c.entries[uid] = copied
}

// Entry returns the cached variables recorded for a target.
func (c *VarCache) Entry(uid target.UID) (map[string]string, bool) {
	vars, ok := c.entries[uid]
	return vars, ok
}
