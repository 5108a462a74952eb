package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// LookupEnv looks up an environment variable.
type LookupEnv func(key string) (string, bool)

// Load layers the configuration: defaults, then the YAML file at path (if
// path is not empty), then the environment read through lookup (os.LookupEnv
// when nil). Flags are applied by the caller on top.
func Load(fsys afero.Fs, path string, lookup LookupEnv) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := readFile(fsys, path, &cfg); err != nil {
			return cfg, err
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := envconfig.Process("", &cfg, lookup); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

func readFile(fsys afero.Fs, path string, cfg *Config) error {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s does not exist", path)
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
