// Package mirror replicates the latest release of a source repository, with all of
// its binary assets, to several release hosts in parallel.
//
// A Client fetches every asset once, then drives each destination through
// create release, upload assets and finalize. Destinations are independent:
// one failing never stops the others, and the run result reports each
// destination's outcome.
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := mirror.NewFromConfig(ctx, cfg, mirror.WithLogger(slog.Default()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := client.Run(ctx)
package mirror

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/chunk"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/orchestrator"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/secrets"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/source"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// Client runs release replication.
// A Client may be run several times; each run fetches the latest release again.
type Client struct {
	config       *mirrortypes.ClientConfig
	source       source.Source
	destinations []destination.Destination
	logger       *slog.Logger
}

func defaultConfig() *mirrortypes.ClientConfig {
	return &mirrortypes.ClientConfig{
		AssetFailurePolicy: mirrortypes.AbortDestination,
		ExcludeSuffixes:    []string{mirrortypes.DefaultExcludedSuffix},
		FrameSize:          chunk.DefaultFrameSize,
		ProgressInterval:   progress.DefaultInterval,
		ProgressWriter:     os.Stdout,
	}
}

func applyOptions(opts []mirrortypes.Option) *mirrortypes.ClientConfig {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Secrets == nil {
		cfg.Secrets = secrets.NewResolver(secrets.WithLogger(cfg.Logger))
	}
	if cfg.ProgressWriter == nil {
		cfg.ProgressWriter = io.Discard
	}
	return cfg
}

// New creates a Client replicating from src to dests.
func New(src source.Source, dests []destination.Destination, opts ...mirrortypes.Option) (*Client, error) {
	cfg := applyOptions(opts)

	// Validate the pairing up front so a misconfigured client fails at construction.
	if _, err := orchestrator.New(src, dests, orchestratorOptions(cfg, nil)...); err != nil {
		return nil, err
	}

	return &Client{
		config:       cfg,
		source:       src,
		destinations: dests,
		logger:       cfg.Logger,
	}, nil
}

func orchestratorOptions(cfg *mirrortypes.ClientConfig, tracker *progress.Tracker) []orchestrator.Option {
	return []orchestrator.Option{
		orchestrator.WithTracker(tracker),
		orchestrator.WithLimiter(pool.NewLimiter(cfg.Concurrency)),
		orchestrator.WithPolicy(cfg.AssetFailurePolicy),
		orchestrator.WithExcludeSuffixes(cfg.ExcludeSuffixes...),
		orchestrator.WithLogger(cfg.Logger),
	}
}

// Destinations returns the ids of the configured destinations.
func (c *Client) Destinations() []string {
	ids := make([]string, len(c.destinations))
	for i, d := range c.destinations {
		ids[i] = d.ID()
	}
	return ids
}

// Run replicates the latest release once. The error is non-nil only when the release
// could not be gathered from the source; destination failures are in the result.
func (c *Client) Run(ctx context.Context) (*mirrortypes.RunResult, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	tracker := progress.NewTracker(
		progress.WithWriter(c.config.ProgressWriter),
		progress.WithInterval(c.config.ProgressInterval),
		progress.WithLogger(c.logger),
	)

	r, err := orchestrator.New(c.source, c.destinations, orchestratorOptions(c.config, tracker)...)
	if err != nil {
		return nil, err
	}

	c.logger.Info("starting release mirror", "source", c.source.Name(), "destinations", len(c.destinations))
	return r.Run(ctx)
}
