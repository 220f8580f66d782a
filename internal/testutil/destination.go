package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// FakeDestination is an in-memory destination whose steps can be made to fail.
type FakeDestination struct {
	Name      string
	ShortTag  string
	FrameSize int

	// CreateErr fails CreateRelease
	CreateErr error

	// ObtainErr, UploadErr and FinalizeErr fail the step for the named asset
	ObtainErr   map[string]error
	UploadErr   map[string]error
	FinalizeErr map[string]error

	// BlockUpload makes Upload wait for ctx cancellation for the named assets
	BlockUpload map[string]bool

	// UploadGate makes Upload wait until the channel for the named asset is closed
	UploadGate map[string]chan struct{}

	// AfterFinalize, when set, is called after an asset was finalized
	AfterFinalize func(asset string)

	// Calls counts every method call
	Calls atomic.Int64

	mu        sync.Mutex
	releases  []mirrortypes.Release
	stored    map[string][]byte
	finalized map[string]bool
}

// NewFakeDestination creates a FakeDestination with the given id and progress tag.
func NewFakeDestination(id, tag string) *FakeDestination {
	return &FakeDestination{
		Name:        id,
		ShortTag:    tag,
		FrameSize:   1024,
		ObtainErr:   map[string]error{},
		UploadErr:   map[string]error{},
		FinalizeErr: map[string]error{},
		BlockUpload: map[string]bool{},
		UploadGate:  map[string]chan struct{}{},
		stored:      map[string][]byte{},
		finalized:   map[string]bool{},
	}
}

// ID returns the destination id.
func (f *FakeDestination) ID() string { return f.Name }

// Tag returns the progress tag.
func (f *FakeDestination) Tag() string { return f.ShortTag }

// CreateRelease records the release.
func (f *FakeDestination) CreateRelease(_ context.Context, release *mirrortypes.Release) (destination.ReleaseHandle, error) {
	f.Calls.Add(1)
	if f.CreateErr != nil {
		return destination.ReleaseHandle{}, f.CreateErr
	}
	f.mu.Lock()
	f.releases = append(f.releases, *release)
	f.mu.Unlock()
	return destination.ReleaseHandle{ID: "rel-" + release.TagName, Release: *release}, nil
}

// ObtainUploadTarget returns a target named after the asset.
func (f *FakeDestination) ObtainUploadTarget(
	_ context.Context,
	handle destination.ReleaseHandle,
	asset *mirrortypes.Asset,
) (destination.UploadTarget, error) {
	f.Calls.Add(1)
	if err := f.ObtainErr[asset.Name]; err != nil {
		return destination.UploadTarget{}, err
	}
	return destination.UploadTarget{
		Handle:    handle,
		Asset:     asset.Name,
		UploadURL: fmt.Sprintf("fake://%s/%s/%s", f.Name, handle.ID, asset.Name),
	}, nil
}

// Upload stores the asset, reporting progress frame by frame.
func (f *FakeDestination) Upload(
	ctx context.Context,
	_ destination.UploadTarget,
	asset *mirrortypes.Asset,
	onProgress destination.ProgressFunc,
) (destination.UploadOutcome, error) {
	f.Calls.Add(1)
	if f.BlockUpload[asset.Name] {
		<-ctx.Done()
		return destination.UploadOutcome{}, ctx.Err()
	}
	if gate, ok := f.UploadGate[asset.Name]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return destination.UploadOutcome{}, ctx.Err()
		}
	}
	if err := f.UploadErr[asset.Name]; err != nil {
		return destination.UploadOutcome{}, err
	}

	total := asset.Size()
	frame := int64(f.FrameSize)
	for sent := int64(0); sent < total; {
		if err := ctx.Err(); err != nil {
			return destination.UploadOutcome{}, err
		}
		sent = min(sent+frame, total)
		if onProgress != nil {
			onProgress(sent, total)
		}
	}

	f.mu.Lock()
	f.stored[asset.Name] = append([]byte(nil), asset.Data...)
	f.mu.Unlock()
	return destination.UploadOutcome{BytesSent: total}, nil
}

// Finalize marks the asset as verified.
func (f *FakeDestination) Finalize(_ context.Context, _ destination.UploadTarget, asset *mirrortypes.Asset) error {
	f.Calls.Add(1)
	if err := f.FinalizeErr[asset.Name]; err != nil {
		return err
	}
	f.mu.Lock()
	f.finalized[asset.Name] = true
	f.mu.Unlock()
	if f.AfterFinalize != nil {
		f.AfterFinalize(asset.Name)
	}
	return nil
}

// Releases returns the releases created on the destination.
func (f *FakeDestination) Releases() []mirrortypes.Release {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mirrortypes.Release(nil), f.releases...)
}

// Stored returns the names of the uploaded assets, sorted.
func (f *FakeDestination) Stored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.stored))
	for n := range f.stored {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Data returns the stored bytes of asset.
func (f *FakeDestination) Data(asset string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored[asset]
}

// Finalized reports whether asset was finalized.
func (f *FakeDestination) Finalized(asset string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalized[asset]
}

var _ destination.Destination = (*FakeDestination)(nil)
