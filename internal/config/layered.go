package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// localPath turns `dir/config.json5` into `dir/config.local.json5`.
func localPath(name string) string {
	dir, base := filepath.Split(name)
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return filepath.Join(dir, base[:i]+".local"+base[i:])
	}
	return filepath.Join(dir, base+".local")
}

// ReadLayered decodes the json5 file `name` and then `<name>.local.<ext>` on top of it, non-zero
// values of a later layer replace those of an earlier one. Missing layers are skipped,
// os.ErrNotExist is returned only when every layer is missing.
func ReadLayered[T any](name string) (T, error) {
	var out T
	found := 0

	for _, path := range []string{name, localPath(name)} {
		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return out, err
		}
		found++
		if len(strings.TrimSpace(string(content))) == 0 {
			continue
		}

		var layer T
		err = json5.Unmarshal(content, &layer)
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		err = mergo.Merge(&out, layer, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		slog.Debug("read config layer", "path", path)
	}

	if found == 0 {
		return out, os.ErrNotExist
	}
	return out, nil
}
