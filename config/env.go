package config

import (
	"fmt"
	"strings"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
)

// Environment variables read by FromEnv.
const (
	EnvGitHubRepository     = "GITHUB_REPOSITORY"
	EnvGitHubToken          = "GITHUB_TOKEN"
	EnvGiteeOwner           = "GITEE_OWNER"
	EnvGiteeRepo            = "GITEE_REPO"
	EnvGiteeToken           = "GITEE_TOKEN"
	EnvGiteeTargetCommitish = "GITEE_TARGET_COMMITISH"
	EnvCNBOwner             = "CNB_OWNER"
	EnvCNBRepo              = "CNB_REPO"
	EnvCNBToken             = "CNB_TOKEN"
	EnvCNBTargetCommitish   = "CNB_TARGET_COMMITISH"
)

// FromEnv builds a configuration from environment variables. A destination is
// configured only when its owner variable is set. Tokens are kept as env:
// references so their values are read only when the run starts.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	cfg := &Config{Source: SourceConfig{Kind: SourceGitHub}}

	if repository := get(EnvGitHubRepository); repository != "" {
		owner, repo, ok := strings.Cut(repository, "/")
		if !ok || owner == "" || repo == "" {
			return nil, fmt.Errorf("%w: %s %q is not owner/repo", mirrorerrors.ErrInvalidConfig, EnvGitHubRepository, repository)
		}
		cfg.Source.Owner = owner
		cfg.Source.Repo = repo
	}
	if get(EnvGitHubToken) != "" {
		cfg.Source.Token = "env:" + EnvGitHubToken
	}

	if owner := get(EnvGiteeOwner); owner != "" {
		cfg.Destinations = append(cfg.Destinations, DestinationConfig{
			Kind:            KindGitee,
			Owner:           owner,
			Repo:            get(EnvGiteeRepo),
			Token:           "env:" + EnvGiteeToken,
			TargetCommitish: get(EnvGiteeTargetCommitish),
		})
	}

	if owner := get(EnvCNBOwner); owner != "" {
		cfg.Destinations = append(cfg.Destinations, DestinationConfig{
			Kind:            KindCNB,
			Owner:           owner,
			Repo:            get(EnvCNBRepo),
			Token:           "env:" + EnvCNBToken,
			TargetCommitish: get(EnvCNBTargetCommitish),
		})
	}

	cfg.ApplyDefaults()
	return cfg, nil
}
