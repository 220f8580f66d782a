// Package destination defines the contract every mirror host adapter implements.
//
// An adapter runs a release through four steps: CreateRelease once, then
// ObtainUploadTarget, Upload and Finalize for every asset. Adapters whose upload is
// itself the terminal step implement Finalize as a no-op. New hosts are added as new
// implementations of Destination, never by branching on host type.
package destination

import (
	"context"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// ProgressFunc receives the number of bytes sent so far out of total.
// It is called from the transport as the request body is read.
type ProgressFunc func(sent, total int64)

// ReleaseHandle identifies a release created on a destination.
type ReleaseHandle struct {
	// ID is the host assigned release identifier
	ID string

	// Release is the release the handle was created for
	Release mirrortypes.Release
}

// UploadTarget is where one asset is sent.
type UploadTarget struct {
	Handle ReleaseHandle

	// Asset is the asset name
	Asset string

	// UploadURL is the endpoint (or object key / reference) the upload goes to
	UploadURL string

	// VerifyURL is the endpoint confirming the upload, empty when there is none
	VerifyURL string

	// Meta carries adapter specific values between steps
	Meta map[string]string
}

// UploadOutcome describes a completed upload.
type UploadOutcome struct {
	// BytesSent is the number of body bytes transmitted
	BytesSent int64

	// Response is the raw response payload, if any
	Response []byte
}

// Destination is a mirror host adapter.
type Destination interface {
	// ID returns the configured destination id, unique within a run.
	ID() string

	// Tag returns the short tag used in progress labels (e.g. "GTE", "CNB").
	Tag() string

	// CreateRelease creates the release on the host.
	CreateRelease(ctx context.Context, release *mirrortypes.Release) (ReleaseHandle, error)

	// ObtainUploadTarget returns where asset must be uploaded.
	ObtainUploadTarget(ctx context.Context, handle ReleaseHandle, asset *mirrortypes.Asset) (UploadTarget, error)

	// Upload streams asset to target, reporting progress through onProgress.
	Upload(ctx context.Context, target UploadTarget, asset *mirrortypes.Asset, onProgress ProgressFunc) (UploadOutcome, error)

	// Finalize confirms the upload of asset. It is a no-op for hosts without a verification step.
	Finalize(ctx context.Context, target UploadTarget, asset *mirrortypes.Asset) error
}

// Settings are the values shared by every adapter.
type Settings struct {
	// FrameSize is the streaming frame size in bytes
	FrameSize int

	// ContentType overrides detection of the asset media type
	ContentType string
}
