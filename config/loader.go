package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/adrg/xdg"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
)

// FileName is the configuration file name searched for.
const FileName = "mirror.cue"

// AppName names the configuration directory under XDG_CONFIG_HOME.
const AppName = "release-mirror"

// ErrNotFound is returned by Find when no configuration file exists.
var ErrNotFound = errors.New("configuration file not found")

//go:embed schema.cue
var schemaSource []byte

// Find returns the configuration file to load. An explicit path must exist; otherwise
// ./mirror.cue is preferred over $XDG_CONFIG_HOME/release-mirror/mirror.cue.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %w", mirrorerrors.ErrInvalidConfig, err)
		}
		return explicit, nil
	}

	if _, err := os.Stat(FileName); err == nil {
		return FileName, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	path, err := xdg.SearchConfigFile(filepath.Join(AppName, FileName))
	if err != nil {
		return "", ErrNotFound
	}
	return path, nil
}

// Load finds and parses the configuration file, falling back to the environment
// when none exists. The returned configuration has defaults applied and is validated.
func Load(explicit string) (*Config, error) {
	path, err := Find(explicit)
	switch {
	case errors.Is(err, ErrNotFound):
		cfg, err := FromEnv(os.LookupEnv)
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	case err != nil:
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse compiles CUE source, unifies it with the configuration schema and decodes it.
// Defaults are applied; Validate is left to the caller.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile configuration schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to compile %s: %w", mirrorerrors.ErrInvalidConfig, filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mirrorerrors.ErrInvalidConfig, filename, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", mirrorerrors.ErrInvalidConfig, filename, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}
