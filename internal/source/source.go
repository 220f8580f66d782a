// Package source gathers a release and its asset bytes from the authoritative host.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// Source is the authoritative host releases are replicated from.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// LatestRelease returns the latest release and references to its assets.
	LatestRelease(ctx context.Context) (*mirrortypes.Release, []mirrortypes.AssetRef, error)

	// Fetch returns the bytes of one asset.
	Fetch(ctx context.Context, ref mirrortypes.AssetRef) ([]byte, error)
}

// Gathered is a release with every asset fetched and filtered.
type Gathered struct {
	Release *mirrortypes.Release

	// Assets are the assets to replicate, in source order
	Assets []*mirrortypes.Asset

	// Excluded names the fetched assets dropped by the suffix filter
	Excluded []string
}

// Names returns the names of the assets to replicate.
func (g *Gathered) Names() []string {
	names := make([]string, len(g.Assets))
	for i, a := range g.Assets {
		names[i] = a.Name
	}
	return names
}

// Gather fetches the latest release and all of its assets in parallel, then drops assets
// whose names end with one of excludeSuffixes. Any single fetch failure fails the whole
// gather with ErrAssetFetch. limiter bounds concurrent fetches and may be nil.
func Gather(
	ctx context.Context,
	src Source,
	limiter *pool.Limiter,
	excludeSuffixes []string,
	logger *slog.Logger,
) (*Gathered, error) {
	release, refs, err := src.LatestRelease(ctx)
	if err != nil {
		return nil, err
	}

	assets, err := FetchAll(ctx, src, refs, limiter)
	if err != nil {
		return nil, err
	}

	kept, excluded := Filter(assets, excludeSuffixes)

	if logger != nil {
		logger.Info("gathered assets", "source", src.Name(), "tag", release.TagName, "count", len(kept))
		for _, a := range kept {
			logger.Info("asset", "name", a.Name, "bytes", a.Size())
		}
		for _, n := range excluded {
			logger.Debug("asset excluded", "name", n)
		}
	}

	return &Gathered{Release: release, Assets: kept, Excluded: excluded}, nil
}

// FetchAll fetches every referenced asset in parallel and returns them in reference order.
// The first failure cancels the remaining fetches.
func FetchAll(
	ctx context.Context,
	src Source,
	refs []mirrortypes.AssetRef,
	limiter *pool.Limiter,
) ([]*mirrortypes.Asset, error) {
	assets := make([]*mirrortypes.Asset, len(refs))

	g, gctx := errgroup.WithContext(ctx)

	for i, ref := range refs {
		g.Go(func() error {
			release, err := limiter.Acquire(gctx)
			if err != nil {
				return fetchError(ref, err)
			}
			defer release()

			data, err := src.Fetch(gctx, ref)
			if err != nil {
				return fetchError(ref, err)
			}

			assets[i] = &mirrortypes.Asset{Name: ref.Name, Data: data}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func fetchError(ref mirrortypes.AssetRef, err error) error {
	return mirrorerrors.NewAssetError("source.fetch", "", ref.Name, fmt.Errorf("%w: %w", mirrorerrors.ErrAssetFetch, err))
}

// Filter splits assets into those to replicate and the names of those excluded by suffix.
func Filter(assets []*mirrortypes.Asset, excludeSuffixes []string) (kept []*mirrortypes.Asset, excluded []string) {
	for _, a := range assets {
		if a.HasSuffix(excludeSuffixes...) {
			excluded = append(excluded, a.Name)
			continue
		}
		kept = append(kept, a)
	}
	return kept, excluded
}
