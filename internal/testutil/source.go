package testutil

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// FakeSource serves a fixed release and asset contents from memory.
type FakeSource struct {
	Release *mirrortypes.Release
	Assets  map[string][]byte

	// Order lists the asset names in the order LatestRelease returns them
	Order []string

	// LatestErr fails LatestRelease
	LatestErr error

	// FetchErr fails Fetch for the named asset
	FetchErr map[string]error

	Fetches atomic.Int64
}

// NewFakeSource creates a source for release with assets in the given order.
func NewFakeSource(release *mirrortypes.Release, assets ...mirrortypes.Asset) *FakeSource {
	s := &FakeSource{
		Release:  release,
		Assets:   map[string][]byte{},
		FetchErr: map[string]error{},
	}
	for _, a := range assets {
		s.Assets[a.Name] = a.Data
		s.Order = append(s.Order, a.Name)
	}
	return s
}

// Name returns the source name.
func (s *FakeSource) Name() string { return "fake" }

// LatestRelease returns the configured release and asset references.
func (s *FakeSource) LatestRelease(context.Context) (*mirrortypes.Release, []mirrortypes.AssetRef, error) {
	if s.LatestErr != nil {
		return nil, nil, s.LatestErr
	}
	refs := make([]mirrortypes.AssetRef, 0, len(s.Order))
	for _, n := range s.Order {
		refs = append(refs, mirrortypes.AssetRef{Name: n, URL: "fake://" + n, Size: int64(len(s.Assets[n]))})
	}
	return s.Release, refs, nil
}

// Fetch returns the asset contents.
func (s *FakeSource) Fetch(ctx context.Context, ref mirrortypes.AssetRef) ([]byte, error) {
	s.Fetches.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.FetchErr[ref.Name]; err != nil {
		return nil, err
	}
	data, ok := s.Assets[ref.Name]
	if !ok {
		return nil, fmt.Errorf("unknown asset %s", ref.Name)
	}
	return data, nil
}
