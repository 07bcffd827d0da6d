package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/subosito/gotenv"
)

// LoadSecretsEnv reads $XDG_CONFIG_HOME/chaindeploy/secrets.env (or
// ~/.config/chaindeploy/secrets.env) and returns its key/value pairs.
// A missing file yields an empty map.
func LoadSecretsEnv(path string) (map[string]string, error) {
	if path == "" {
		path = filepath.Join(ConfigDir(), "secrets.env")
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open secrets: %w", err)
	}
	defer f.Close()
	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("parse secrets %s: %w", path, err)
	}
	return env, nil
}
