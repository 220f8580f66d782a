// Package local reads a release from a directory: release.json holds the metadata and
// every other regular file in the directory is an asset.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// ReleaseFile is the metadata file name.
const ReleaseFile = "release.json"

// Source reads releases from a filesystem.
type Source struct {
	fs   billy.Filesystem
	name string
}

// New creates a source over fs, rooted at the release directory.
func New(fs billy.Filesystem) *Source {
	return &Source{fs: fs, name: "local:" + fs.Root()}
}

// NewOS creates a source over a directory of the host filesystem.
func NewOS(dir string) *Source {
	return New(osfs.New(dir))
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.name
}

// LatestRelease reads release.json and lists the asset files sorted by name.
func (s *Source) LatestRelease(ctx context.Context) (*mirrortypes.Release, []mirrortypes.AssetRef, error) {
	const op = "local.latestRelease"

	if err := ctx.Err(); err != nil {
		return nil, nil, mirrorerrors.NewError(op, err)
	}

	raw, err := util.ReadFile(s.fs, ReleaseFile)
	if err != nil {
		return nil, nil, mirrorerrors.NewError(op, fmt.Errorf("%w: read %s: %v", mirrorerrors.ErrInvalidInput, ReleaseFile, err))
	}

	var release mirrortypes.Release
	if err := json.Unmarshal(raw, &release); err != nil {
		return nil, nil, mirrorerrors.NewError(op, fmt.Errorf("%w: parse %s: %v", mirrorerrors.ErrInvalidInput, ReleaseFile, err))
	}
	if release.TagName == "" {
		return nil, nil, mirrorerrors.NewError(op, mirrorerrors.NewProtocolError("tag_name", "", raw))
	}

	entries, err := s.fs.ReadDir(".")
	if err != nil {
		return nil, nil, mirrorerrors.NewError(op, err)
	}

	refs := make([]mirrortypes.AssetRef, 0, len(entries))
	for _, e := range entries {
		if !e.Mode().IsRegular() || e.Name() == ReleaseFile {
			continue
		}
		refs = append(refs, mirrortypes.AssetRef{Name: e.Name(), URL: e.Name(), Size: e.Size()})
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Name < refs[j].Name
	})

	return &release, refs, nil
}

// Fetch reads the asset file.
func (s *Source) Fetch(ctx context.Context, ref mirrortypes.AssetRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, ref.URL)
	if err != nil {
		return nil, mirrorerrors.NewError("local.fetch", err).WithAsset(ref.Name)
	}
	return data, nil
}
