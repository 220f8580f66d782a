package config

import (
	"fmt"
	"strings"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
)

// Validate checks the configuration for errors CUE cannot express and reports all of
// them in a single ErrInvalidConfig error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if ok, err := IsCompatible(c.Version); err != nil {
		add("%v", err)
	} else if !ok {
		add("config version %s is not compatible with schema version %s", c.Version, SchemaVersion)
	}

	switch c.Source.Kind {
	case SourceGitHub:
		if c.Source.Owner == "" || c.Source.Repo == "" {
			add("source: github requires owner and repo")
		}
	case SourceLocal:
		if c.Source.Dir == "" {
			add("source: local requires dir")
		}
	default:
		add("source: unknown kind %q", c.Source.Kind)
	}

	if len(c.Destinations) == 0 {
		add("no destinations configured")
	}

	seen := make(map[string]bool, len(c.Destinations))
	for i, d := range c.Destinations {
		name := fmt.Sprintf("destinations[%d]", i)
		if d.ID != "" {
			name = fmt.Sprintf("destination %q", d.ID)
			if seen[d.ID] {
				add("%s: duplicate id", name)
			}
			seen[d.ID] = true
		}

		for _, field := range d.missing() {
			add("%s: %s requires %s", name, d.Kind, field)
		}
	}

	if !c.Policy().Valid() {
		add("unknown asset_failure_policy %q", c.AssetFailurePolicy)
	}
	if c.FrameSize <= 0 {
		add("frame_size must be positive, got %d", c.FrameSize)
	}
	if c.Concurrency < 0 {
		add("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Timeout < 0 || c.ProgressInterval < 0 {
		add("durations must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", mirrorerrors.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// missing lists the required fields of the destination's kind that are empty.
func (d DestinationConfig) missing() []string {
	var required map[string]string
	switch d.Kind {
	case KindGitee, KindCNB:
		required = map[string]string{"owner": d.Owner, "repo": d.Repo, "token": d.Token}
	case KindS3:
		required = map[string]string{"bucket": d.Bucket}
	case KindOCI:
		required = map[string]string{"reference": d.Reference}
	default:
		return []string{"a known kind"}
	}

	var missing []string
	for _, field := range []string{"owner", "repo", "token", "bucket", "reference"} {
		if v, ok := required[field]; ok && v == "" {
			missing = append(missing, field)
		}
	}
	return missing
}
