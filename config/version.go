package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the configuration schema version this package reads.
const SchemaVersion = "0.1.0"

// IsCompatible checks if a configuration version is compatible with SchemaVersion
// under a caret constraint. For 0.x versions only patch changes are compatible.
func IsCompatible(version string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + SchemaVersion)
	if err != nil {
		return false, fmt.Errorf("invalid schema version: %w", err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid config version %q: %w", version, err)
	}

	return constraint.Check(v), nil
}
