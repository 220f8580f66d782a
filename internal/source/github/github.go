// Package github reads the latest release of a GitHub repository.
package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// DefaultAPIURL is the public GitHub REST API root.
const DefaultAPIURL = "https://api.github.com"

// Config identifies the source repository.
type Config struct {
	Owner  string
	Repo   string
	Token  string
	APIURL string
}

// ParseRepository splits "owner/repo" as found in GITHUB_REPOSITORY.
func ParseRepository(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("%w: repository %q is not owner/repo", mirrorerrors.ErrInvalidConfig, s)
	}
	return owner, repo, nil
}

// Source reads releases through the GitHub REST API.
type Source struct {
	cfg    Config
	client *transport.Client
	logger *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the transport client.
func WithClient(c *transport.Client) Option {
	return func(s *Source) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a GitHub source. The token is optional for public repositories.
func New(cfg Config, opts ...Option) (*Source, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("%w: github owner and repo are required", mirrorerrors.ErrInvalidConfig)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")

	s := &Source{
		cfg:    cfg,
		client: transport.New(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the source name.
func (s *Source) Name() string {
	return "github:" + s.cfg.Owner + "/" + s.cfg.Repo
}

type releaseResponse struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Prerelease bool   `json:"prerelease"`
	Body       string `json:"body"`
	Assets     []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Size int64  `json:"size"`
	} `json:"assets"`
}

func (s *Source) header(accept string) http.Header {
	h := transport.BearerHeader(s.cfg.Token)
	h.Set("Accept", accept)
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

// LatestRelease returns the latest published release and its assets.
func (s *Source) LatestRelease(ctx context.Context) (*mirrortypes.Release, []mirrortypes.AssetRef, error) {
	const op = "github.latestRelease"

	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", s.cfg.APIURL, url.PathEscape(s.cfg.Owner), url.PathEscape(s.cfg.Repo))

	var resp releaseResponse
	raw, err := s.client.JSON(ctx, op, http.MethodGet, endpoint, s.header("application/vnd.github+json"), nil, &resp)
	if err != nil {
		return nil, nil, err
	}
	if err := transport.Require(op, "tag_name", resp.TagName, raw); err != nil {
		return nil, nil, err
	}

	refs := make([]mirrortypes.AssetRef, 0, len(resp.Assets))
	for _, a := range resp.Assets {
		if err := transport.Require(op, "assets.url", a.URL, raw); err != nil {
			return nil, nil, err
		}
		refs = append(refs, mirrortypes.AssetRef{Name: a.Name, URL: a.URL, Size: a.Size})
	}

	s.logger.Info("latest release", "source", s.Name(), "tag", resp.TagName, "assets", len(refs))
	return &mirrortypes.Release{
		TagName:    resp.TagName,
		Name:       resp.Name,
		Prerelease: resp.Prerelease,
		Body:       resp.Body,
	}, refs, nil
}

// Fetch downloads the asset bytes.
func (s *Source) Fetch(ctx context.Context, ref mirrortypes.AssetRef) ([]byte, error) {
	resp, err := s.client.Do(ctx, transport.Request{
		Op:     "github.fetchAsset",
		Method: http.MethodGet,
		URL:    ref.URL,
		Header: s.header("application/octet-stream"),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
