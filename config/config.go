// Package config loads the release mirror configuration.
//
// Configuration is read from a CUE file unified with an embedded schema, or,
// when no file exists, from the environment variables the mirror has always
// accepted (GITHUB_REPOSITORY, GITEE_OWNER, CNB_TOKEN, ...).
//
// Token fields hold references resolved at run time: a literal value,
// env:NAME or awssm:SECRET_ID.
package config

import (
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// Source kinds.
const (
	SourceGitHub = "github"
	SourceLocal  = "local"
)

// Destination kinds.
const (
	KindGitee = "gitee"
	KindCNB   = "cnb"
	KindS3    = "s3"
	KindOCI   = "oci"
)

// Default values applied when a field is unset.
const (
	DefaultFrameSize        = 65536
	DefaultProgressInterval = 15 * time.Second
)

// Config is the complete mirror configuration.
type Config struct {
	Version            string              `json:"version"`
	Source             SourceConfig        `json:"source"`
	Destinations       []DestinationConfig `json:"destinations"`
	Concurrency        int                 `json:"concurrency"`
	AssetFailurePolicy string              `json:"asset_failure_policy"`
	ExcludeSuffixes    []string            `json:"exclude_suffixes"`
	FrameSize          int                 `json:"frame_size"`
	ProgressInterval   Duration            `json:"progress_interval"`
	Timeout            Duration            `json:"timeout,omitempty"`
	ContentType        string              `json:"content_type,omitempty"`
	UserAgent          string              `json:"user_agent,omitempty"`
}

// SourceConfig selects where releases are read from.
type SourceConfig struct {
	Kind   string `json:"kind"`
	Owner  string `json:"owner,omitempty"`
	Repo   string `json:"repo,omitempty"`
	Token  string `json:"token,omitempty"`
	APIURL string `json:"api_url,omitempty"`
	Dir    string `json:"dir,omitempty"`
}

// DestinationConfig describes one destination. Which fields apply depends on Kind.
type DestinationConfig struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`

	// gitee, cnb
	Owner           string `json:"owner,omitempty"`
	Repo            string `json:"repo,omitempty"`
	Token           string `json:"token,omitempty"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	BaseURL         string `json:"base_url,omitempty"`

	// s3
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"path_style"`

	// oci; Token is the registry password
	Reference string `json:"reference,omitempty"`
	Username  string `json:"username,omitempty"`
	PlainHTTP bool   `json:"plain_http"`
}

// Policy returns the asset failure policy.
func (c *Config) Policy() mirrortypes.AssetFailurePolicy {
	return mirrortypes.AssetFailurePolicy(c.AssetFailurePolicy)
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = SchemaVersion
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceGitHub
	}
	if c.AssetFailurePolicy == "" {
		c.AssetFailurePolicy = string(mirrortypes.AbortDestination)
	}
	if c.ExcludeSuffixes == nil {
		c.ExcludeSuffixes = []string{mirrortypes.DefaultExcludedSuffix}
	}
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = Duration(DefaultProgressInterval)
	}
	for i := range c.Destinations {
		if c.Destinations[i].ID == "" {
			c.Destinations[i].ID = c.Destinations[i].Kind
		}
	}
}

// Duration is a time.Duration written as a Go duration string, e.g. "15s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
