package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/config"
	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination/cnb"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination/gitee"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination/oci"
	s3dest "github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination/s3"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/gitref"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/source"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/source/github"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/source/local"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/transport"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// NewFromConfig builds the source and destinations described by cfg and returns a
// Client for them. Settings from cfg are applied before opts, so options win.
// Token references are resolved here, once.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...mirrortypes.Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is nil", mirrorerrors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fromConfig := []mirrortypes.Option{
		WithConcurrency(cfg.Concurrency),
		WithAssetFailurePolicy(cfg.Policy()),
		WithExcludeSuffixes(cfg.ExcludeSuffixes...),
		WithFrameSize(cfg.FrameSize),
		WithProgressInterval(cfg.ProgressInterval.Std()),
		WithTimeout(cfg.Timeout.Std()),
		WithContentType(cfg.ContentType),
	}
	if cfg.UserAgent != "" {
		fromConfig = append(fromConfig, WithUserAgent(cfg.UserAgent))
	}
	clientCfg := applyOptions(append(fromConfig, opts...))

	b := &builder{
		config: clientCfg,
		http:   newTransport(clientCfg),
		logger: clientCfg.Logger,
	}

	src, err := b.source(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}

	dests := make([]destination.Destination, 0, len(cfg.Destinations))
	for _, dc := range cfg.Destinations {
		d, err := b.destination(ctx, dc)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", dc.ID, err)
		}
		dests = append(dests, d)
	}

	return New(src, dests, func(c *mirrortypes.ClientConfig) { *c = *clientCfg })
}

func newTransport(cfg *mirrortypes.ClientConfig) *transport.Client {
	opts := []transport.Option{transport.WithLogger(cfg.Logger)}
	if cfg.HTTPClient != nil {
		opts = append(opts, transport.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, transport.WithUserAgent(cfg.UserAgent))
	}
	return transport.New(opts...)
}

type builder struct {
	config *mirrortypes.ClientConfig
	http   *transport.Client
	logger *slog.Logger

	branchOnce sync.Once
	branch     string
}

func (b *builder) settings() destination.Settings {
	return destination.Settings{FrameSize: b.config.FrameSize, ContentType: b.config.ContentType}
}

func (b *builder) resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	return b.config.Secrets.Resolve(ctx, ref)
}

// commitish returns value, or the current branch of the working checkout when value is empty.
// An undeterminable branch leaves the commitish empty so the host uses its default branch.
func (b *builder) commitish(value string) string {
	if value != "" {
		return value
	}
	b.branchOnce.Do(func() {
		dir := b.config.WorkDir
		if dir == "" {
			dir = "."
		}
		branch, err := gitref.CurrentBranch(dir)
		if err != nil {
			b.logger.Warn("could not determine target commitish from git", "error", err)
			return
		}
		b.branch = branch
	})
	return b.branch
}

func (b *builder) source(ctx context.Context, sc config.SourceConfig) (source.Source, error) {
	switch sc.Kind {
	case config.SourceLocal:
		return local.NewOS(sc.Dir), nil
	case config.SourceGitHub, "":
		token, err := b.resolve(ctx, sc.Token)
		if err != nil {
			return nil, fmt.Errorf("source token: %w", err)
		}
		return github.New(github.Config{
			Owner:  sc.Owner,
			Repo:   sc.Repo,
			Token:  token,
			APIURL: sc.APIURL,
		}, github.WithClient(b.http), github.WithLogger(b.logger))
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", mirrorerrors.ErrInvalidConfig, sc.Kind)
	}
}

//nolint:ireturn // each kind builds a different destination implementation
func (b *builder) destination(ctx context.Context, dc config.DestinationConfig) (destination.Destination, error) {
	token, err := b.resolve(ctx, dc.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	logger := b.logger.With("destination", dc.ID)

	switch dc.Kind {
	case config.KindGitee:
		return gitee.New(gitee.Config{
			ID:              dc.ID,
			Owner:           dc.Owner,
			Repo:            dc.Repo,
			Token:           token,
			TargetCommitish: b.commitish(dc.TargetCommitish),
			BaseURL:         dc.BaseURL,
		}, gitee.WithClient(b.http), gitee.WithSettings(b.settings()), gitee.WithLogger(logger))
	case config.KindCNB:
		return cnb.New(cnb.Config{
			ID:              dc.ID,
			Owner:           dc.Owner,
			Repo:            dc.Repo,
			Token:           token,
			TargetCommitish: b.commitish(dc.TargetCommitish),
			BaseURL:         dc.BaseURL,
		}, cnb.WithClient(b.http), cnb.WithSettings(b.settings()), cnb.WithLogger(logger))
	case config.KindS3:
		return s3dest.New(ctx, s3dest.Config{
			ID:        dc.ID,
			Bucket:    dc.Bucket,
			Prefix:    dc.Prefix,
			Region:    dc.Region,
			Endpoint:  dc.Endpoint,
			PathStyle: dc.PathStyle,
		}, s3dest.WithSettings(b.settings()), s3dest.WithLogger(logger))
	case config.KindOCI:
		return oci.New(oci.Config{
			ID:         dc.ID,
			Repository: dc.Reference,
			Username:   dc.Username,
			Password:   token,
			PlainHTTP:  dc.PlainHTTP,
		}, oci.WithSettings(b.settings()), oci.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown destination kind %q", mirrorerrors.ErrInvalidConfig, dc.Kind)
	}
}
