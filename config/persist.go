package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/arii/leaderops/errors"
)

// WriteDefaultConfig writes a starter config file at path, refusing to
// overwrite an existing one.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.Wrap(err, "create config directory")
		}
	}

	cfg := map[string]interface{}{
		"repo": map[string]interface{}{
			"dir":           ".",
			"slug":          "owner/name",
			"remote":        "origin",
			"base_branch":   "leader",
			"worktrees_dir": "../worktrees",
		},
		"verify": map[string]interface{}{
			"install":              "npm install",
			"build":                "npm run build",
			"test":                 "npm test",
			"step_timeout_seconds": 900,
			"workers":              1,
		},
		"index": map[string]interface{}{
			"path": "leaderops.db",
		},
	}

	content, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal default config")
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errors.Wrapf(err, "write config file %s", path)
	}

	return nil
}
