// Package mirrortypes provides shared type definitions for the release mirror.
package mirrortypes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultExcludedSuffix is the reserved packaging suffix never replicated.
const DefaultExcludedSuffix = "-pkg.tar.gz"

// Release is the release metadata fetched from the source host.
// It is immutable once fetched.
type Release struct {
	// TagName is the git tag the release points at
	TagName string `json:"tag_name"`

	// Name is the display name of the release
	Name string `json:"name"`

	// Prerelease marks the release as not production ready
	Prerelease bool `json:"prerelease"`

	// Body is the release notes text
	Body string `json:"body"`
}

// Asset is one binary file attached to a release.
// Data must not be modified after the asset has been fetched.
type Asset struct {
	Name string
	Data []byte
}

// Size returns the asset length in bytes.
func (a *Asset) Size() int64 {
	return int64(len(a.Data))
}

// HasSuffix reports whether the asset name ends with any of suffixes.
func (a *Asset) HasSuffix(suffixes ...string) bool {
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(a.Name, s) {
			return true
		}
	}
	return false
}

// AssetRef points at an asset on the source host before its bytes are fetched.
type AssetRef struct {
	// Name is the asset file name
	Name string `json:"name"`

	// URL is where the asset bytes are fetched from (a file path for local sources)
	URL string `json:"url"`

	// Size is the advertised size, 0 when unknown
	Size int64 `json:"size"`
}

// UploadJob is one tracked (destination, asset) upload.
type UploadJob struct {
	// Label identifies the job, e.g. "[CNB] app.zip"
	Label string

	// Progress is the completion fraction in [0, 1]
	Progress float64

	// ETA is the estimated remaining time in seconds, valid only when ETAKnown
	ETA float64

	// ETAKnown is false while no estimate can be made (progress == 0)
	ETAKnown bool
}

// Done reports whether the job has reached full progress.
func (j UploadJob) Done() bool {
	return j.Progress >= 1
}

// JobLabel builds the tracker label of the upload of asset to the destination tagged tag.
func JobLabel(tag, asset string) string {
	return fmt.Sprintf("[%s] %s", tag, asset)
}

// DestinationState is a step of the per-destination state machine.
type DestinationState string

// Destination states, in order of a successful run.
const (
	StateNotStarted      DestinationState = "not_started"
	StateCreatingRelease DestinationState = "creating_release"
	StateUploadingAssets DestinationState = "uploading_assets"
	StateFinalizing      DestinationState = "finalizing"
	StateDone            DestinationState = "done"
	StateFailed          DestinationState = "failed"
)

// DestinationResult is the outcome of one destination in one run.
// It is produced once and never mutated afterwards.
type DestinationResult struct {
	// Destination is the destination id
	Destination string

	// State is StateDone on success and StateFailed otherwise
	State DestinationState

	// FailedIn is the state the destination was in when it failed
	FailedIn DestinationState

	// Err is the failure, nil on success
	Err error

	// Uploaded lists the assets that completed on this destination
	Uploaded []string

	// Duration is how long the destination run took
	Duration time.Duration
}

// Succeeded reports whether the destination finished without error.
func (r DestinationResult) Succeeded() bool {
	return r.Err == nil && r.State == StateDone
}

// RunResult aggregates one replication run.
type RunResult struct {
	// RunID identifies the run in logs
	RunID string

	// Release is the replicated release
	Release *Release

	// Assets are the names offered to every destination
	Assets []string

	// Results holds one entry per configured destination, in configuration order
	Results []DestinationResult

	// Duration is how long the run took
	Duration time.Duration
}

// Failed returns the results of destinations that failed.
func (r *RunResult) Failed() []DestinationResult {
	var failed []DestinationResult
	for _, res := range r.Results {
		if !res.Succeeded() {
			failed = append(failed, res)
		}
	}
	return failed
}

// AssetFailurePolicy decides what an asset failure does to the rest of its destination.
type AssetFailurePolicy string

const (
	// AbortDestination cancels the destination's remaining uploads on the first asset failure.
	AbortDestination AssetFailurePolicy = "abort"

	// IsolateAsset lets the destination's other assets finish and reports all failures.
	IsolateAsset AssetFailurePolicy = "isolate"
)

// Valid reports whether p is a known policy.
func (p AssetFailurePolicy) Valid() bool {
	return p == AbortDestination || p == IsolateAsset
}

// Configuration types for functional options

// ClientConfig holds configuration for the mirror client.
type ClientConfig struct {
	Logger             *slog.Logger
	Concurrency        int
	AssetFailurePolicy AssetFailurePolicy
	ExcludeSuffixes    []string
	FrameSize          int
	ProgressInterval   time.Duration
	ProgressWriter     io.Writer
	Timeout            time.Duration
	ContentType        string
	HTTPClient         *http.Client
	UserAgent          string
	Secrets            SecretResolver
	WorkDir            string
}

// SecretResolver turns token references into token values.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Option is a functional option for configuring the mirror client.
type Option func(*ClientConfig)
