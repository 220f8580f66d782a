package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

func testSource() *testutil.FakeSource {
	return testutil.NewFakeSource(
		&mirrortypes.Release{TagName: "v1.0.0", Name: "One"},
		mirrortypes.Asset{Name: "app-v1.zip", Data: make([]byte, 5000)},
		mirrortypes.Asset{Name: "app-v1-pkg.tar.gz", Data: make([]byte, 10)},
		mirrortypes.Asset{Name: "app-v1.tar.gz", Data: make([]byte, 3000)},
	)
}

func quietTracker() *progress.Tracker {
	return progress.NewTracker(progress.WithWriter(io.Discard))
}

func newReplicator(t *testing.T, src *testutil.FakeSource, dests []destination.Destination, opts ...Option) *Replicator {
	t.Helper()
	opts = append([]Option{WithTracker(quietTracker()), WithRunID(func() string { return "run-1" })}, opts...)
	r, err := New(src, dests, opts...)
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	src := testSource()

	_, err := New(nil, []destination.Destination{testutil.NewFakeDestination("a", "A")})
	assert.True(t, mirrorerrors.IsInvalidConfig(err))

	_, err = New(src, nil)
	assert.ErrorIs(t, err, mirrorerrors.ErrNoDestinations)

	_, err = New(src, []destination.Destination{
		testutil.NewFakeDestination("a", "A"),
		testutil.NewFakeDestination("a", "B"),
	})
	assert.True(t, mirrorerrors.IsInvalidConfig(err))

	_, err = New(src, []destination.Destination{testutil.NewFakeDestination("a", "A")}, WithPolicy("sometimes"))
	assert.True(t, mirrorerrors.IsInvalidConfig(err))
}

func TestRun_AllSucceed(t *testing.T) {
	gitee := testutil.NewFakeDestination("gitee", "GTE")
	cnb := testutil.NewFakeDestination("cnb", "CNB")
	tracker := quietTracker()

	r := newReplicator(t, testSource(), []destination.Destination{gitee, cnb}, WithTracker(tracker), WithLimiter(pool.NewLimiter(2)))
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "v1.0.0", res.Release.TagName)
	assert.Equal(t, []string{"app-v1.zip", "app-v1.tar.gz"}, res.Assets)
	require.Len(t, res.Results, 2)
	assert.Empty(t, res.Failed())

	for _, d := range []*testutil.FakeDestination{gitee, cnb} {
		assert.Equal(t, []string{"app-v1.tar.gz", "app-v1.zip"}, d.Stored())
		assert.True(t, d.Finalized("app-v1.zip"))
		assert.True(t, d.Finalized("app-v1.tar.gz"))
		require.Len(t, d.Releases(), 1)
	}
	assert.Equal(t, "gitee", res.Results[0].Destination)
	assert.Equal(t, mirrortypes.StateDone, res.Results[0].State)
	assert.ElementsMatch(t, []string{"app-v1.zip", "app-v1.tar.gz"}, res.Results[0].Uploaded)

	snap := tracker.Snapshot()
	require.Len(t, snap, 4)
	labels := make([]string, len(snap))
	for i, j := range snap {
		labels[i] = j.Label
		assert.True(t, j.Done(), j.Label)
	}
	assert.Equal(t, []string{
		"[CNB] app-v1.tar.gz",
		"[CNB] app-v1.zip",
		"[GTE] app-v1.tar.gz",
		"[GTE] app-v1.zip",
	}, labels)
}

func TestRun_DestinationIsolation(t *testing.T) {
	a := testutil.NewFakeDestination("a", "A")
	a.UploadErr["app-v1.zip"] = mirrorerrors.NewError("a.upload", mirrorerrors.NewHTTPStatusError(500, []byte("boom")))
	b := testutil.NewFakeDestination("b", "B")

	r := newReplicator(t, testSource(), []destination.Destination{a, b})
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].Destination)
	assert.Equal(t, mirrortypes.StateFailed, failed[0].State)
	assert.Equal(t, mirrortypes.StateUploadingAssets, failed[0].FailedIn)
	assert.Equal(t, 500, mirrorerrors.StatusCode(failed[0].Err))

	var opErr *mirrorerrors.Error
	require.True(t, errors.As(failed[0].Err, &opErr))
	assert.Equal(t, "a", opErr.Destination)
	assert.Equal(t, "app-v1.zip", opErr.Asset)

	assert.True(t, res.Results[1].Succeeded())
	assert.Equal(t, []string{"app-v1.tar.gz", "app-v1.zip"}, b.Stored())
	assert.True(t, b.Finalized("app-v1.zip"))
}

func TestRun_FetchFailureContactsNoDestination(t *testing.T) {
	src := testSource()
	src.FetchErr["app-v1.tar.gz"] = mirrorerrors.NewHTTPStatusError(404, []byte("Not Found"))
	a := testutil.NewFakeDestination("a", "A")
	b := testutil.NewFakeDestination("b", "B")

	r := newReplicator(t, src, []destination.Destination{a, b})
	res, err := r.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, mirrorerrors.IsAssetFetch(err))
	assert.Zero(t, a.Calls.Load())
	assert.Zero(t, b.Calls.Load())
}

func TestRun_AbortPolicyCancelsSiblings(t *testing.T) {
	a := testutil.NewFakeDestination("a", "A")
	a.UploadErr["app-v1.zip"] = errors.New("upload rejected")
	a.BlockUpload["app-v1.tar.gz"] = true

	r := newReplicator(t, testSource(), []destination.Destination{a})

	done := make(chan struct{})
	var res *mirrortypes.RunResult
	go func() {
		defer close(done)
		var err error
		res, err = r.Run(context.Background())
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("abort policy did not cancel the blocked upload")
	}

	require.Len(t, res.Results, 1)
	got := res.Results[0]
	assert.False(t, got.Succeeded())
	assert.Equal(t, mirrortypes.StateUploadingAssets, got.FailedIn)
	assert.Contains(t, got.Err.Error(), "upload rejected")
	assert.False(t, mirrorerrors.IsCanceled(got.Err))
	assert.Empty(t, got.Uploaded)
	assert.False(t, a.Finalized("app-v1.zip"))
	assert.False(t, a.Finalized("app-v1.tar.gz"))
}

func TestRun_AssetFinalizedBeforeSiblingFails(t *testing.T) {
	a := testutil.NewFakeDestination("a", "A")
	gate := make(chan struct{})
	a.UploadGate["app-v1.zip"] = gate
	a.UploadErr["app-v1.zip"] = errors.New("slow asset rejected")
	a.AfterFinalize = func(asset string) {
		if asset == "app-v1.tar.gz" {
			close(gate)
		}
	}

	r := newReplicator(t, testSource(), []destination.Destination{a})

	done := make(chan struct{})
	var res *mirrortypes.RunResult
	go func() {
		defer close(done)
		var err error
		res, err = r.Run(context.Background())
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("finalize waited for the slower sibling upload")
	}

	got := res.Results[0]
	assert.False(t, got.Succeeded())
	assert.Equal(t, mirrortypes.StateUploadingAssets, got.FailedIn)
	assert.Contains(t, got.Err.Error(), "slow asset rejected")
	assert.Equal(t, []string{"app-v1.tar.gz"}, got.Uploaded)
	assert.True(t, a.Finalized("app-v1.tar.gz"))
	assert.False(t, a.Finalized("app-v1.zip"))
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// slowTargetDestination spends a minute obtaining each upload target, then reports
// half of the upload after ten more seconds.
type slowTargetDestination struct {
	*testutil.FakeDestination
	clock   *testClock
	tracker *progress.Tracker
	atHalf  mirrortypes.UploadJob
}

func (d *slowTargetDestination) ObtainUploadTarget(
	ctx context.Context,
	handle destination.ReleaseHandle,
	asset *mirrortypes.Asset,
) (destination.UploadTarget, error) {
	d.clock.Advance(time.Minute)
	return d.FakeDestination.ObtainUploadTarget(ctx, handle, asset)
}

func (d *slowTargetDestination) Upload(
	ctx context.Context,
	target destination.UploadTarget,
	asset *mirrortypes.Asset,
	onProgress destination.ProgressFunc,
) (destination.UploadOutcome, error) {
	d.clock.Advance(10 * time.Second)
	onProgress(asset.Size()/2, asset.Size())
	d.atHalf = d.tracker.Snapshot()[0]
	return d.FakeDestination.Upload(ctx, target, asset, onProgress)
}

func TestRun_ETAExcludesUploadTargetRequest(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := progress.NewTracker(progress.WithWriter(io.Discard), progress.WithClock(clock.Now))
	d := &slowTargetDestination{
		FakeDestination: testutil.NewFakeDestination("a", "A"),
		clock:           clock,
		tracker:         tracker,
	}
	src := testutil.NewFakeSource(&mirrortypes.Release{TagName: "v1"}, mirrortypes.Asset{Name: "a.zip", Data: make([]byte, 4096)})

	res, err := newReplicator(t, src, []destination.Destination{d}, WithTracker(tracker)).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Results[0].Succeeded())

	assert.Equal(t, "[A] a.zip", d.atHalf.Label)
	assert.InDelta(t, 0.5, d.atHalf.Progress, 1e-9)
	assert.True(t, d.atHalf.ETAKnown)
	assert.InDelta(t, 10.0, d.atHalf.ETA, 1e-9)
}

func TestRun_IsolatePolicyFinishesOtherAssets(t *testing.T) {
	a := testutil.NewFakeDestination("a", "A")
	a.UploadErr["app-v1.zip"] = errors.New("upload rejected")

	r := newReplicator(t, testSource(), []destination.Destination{a}, WithPolicy(mirrortypes.IsolateAsset))
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	got := res.Results[0]
	assert.False(t, got.Succeeded())
	assert.Equal(t, mirrortypes.StateUploadingAssets, got.FailedIn)
	assert.Equal(t, []string{"app-v1.tar.gz"}, got.Uploaded)
	assert.True(t, a.Finalized("app-v1.tar.gz"))
	assert.False(t, a.Finalized("app-v1.zip"))
}

func TestRun_FailureStates(t *testing.T) {
	t.Run("create release", func(t *testing.T) {
		a := testutil.NewFakeDestination("a", "A")
		a.CreateErr = mirrorerrors.NewError("a.create", mirrorerrors.NewHTTPStatusError(401, nil))

		res, err := newReplicator(t, testSource(), []destination.Destination{a}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, mirrortypes.StateCreatingRelease, res.Results[0].FailedIn)
		assert.Equal(t, mirrorerrors.CodeUnauthorized, mirrorerrors.Code(res.Results[0].Err))
		assert.Empty(t, a.Stored())
	})

	t.Run("obtain upload target", func(t *testing.T) {
		a := testutil.NewFakeDestination("a", "A")
		a.ObtainErr["app-v1.tar.gz"] = mirrorerrors.NewProtocolError("upload_url", "", nil)

		res, err := newReplicator(t, testSource(), []destination.Destination{a}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, mirrortypes.StateUploadingAssets, res.Results[0].FailedIn)
		assert.Equal(t, mirrorerrors.CodePublishFailed, mirrorerrors.Code(res.Results[0].Err))
	})

	t.Run("finalize", func(t *testing.T) {
		a := testutil.NewFakeDestination("a", "A")
		a.FinalizeErr["app-v1.zip"] = errors.New("verify failed")

		res, err := newReplicator(t, testSource(), []destination.Destination{a}).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, mirrortypes.StateFinalizing, res.Results[0].FailedIn)
		assert.Contains(t, res.Results[0].Err.Error(), "verify failed")
	})
}

func TestRun_Cancellation(t *testing.T) {
	a := testutil.NewFakeDestination("a", "A")
	a.BlockUpload["app-v1.zip"] = true
	b := testutil.NewFakeDestination("b", "B")
	b.BlockUpload["app-v1.tar.gz"] = true
	tracker := quietTracker()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := newReplicator(t, testSource(), []destination.Destination{a, b}, WithTracker(tracker))
	res, err := r.Run(ctx)
	require.NoError(t, err)

	require.Len(t, res.Failed(), 2)
	for _, f := range res.Failed() {
		assert.True(t, mirrorerrors.IsCanceled(f.Err), f.Err.Error())
	}

	for _, j := range tracker.Snapshot() {
		assert.GreaterOrEqual(t, j.Progress, 0.0)
		assert.LessOrEqual(t, j.Progress, 1.0)
	}
}

func TestRun_SharedTagsUseIDs(t *testing.T) {
	one := testutil.NewFakeDestination("gitee-main", "GTE")
	two := testutil.NewFakeDestination("gitee-mirror", "GTE")
	tracker := quietTracker()

	src := testutil.NewFakeSource(&mirrortypes.Release{TagName: "v1"}, mirrortypes.Asset{Name: "a.zip", Data: []byte("a")})
	res, err := newReplicator(t, src, []destination.Destination{one, two}, WithTracker(tracker)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Failed())

	snap := tracker.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "[gitee-main] a.zip", snap[0].Label)
	assert.Equal(t, "[gitee-mirror] a.zip", snap[1].Label)
}

func TestRun_NoAssets(t *testing.T) {
	a := testutil.NewFakeDestination("a", "A")
	src := testutil.NewFakeSource(&mirrortypes.Release{TagName: "v1"})

	res, err := newReplicator(t, src, []destination.Destination{a}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Results[0].Succeeded())
	assert.Len(t, a.Releases(), 1)
}

func TestAnnotate(t *testing.T) {
	base := mirrorerrors.NewError("op", errors.New("x"))
	tagged := annotate(base, "dest", "asset")

	var e *mirrorerrors.Error
	require.True(t, errors.As(tagged, &e))
	assert.Equal(t, "dest", e.Destination)
	assert.Equal(t, "asset", e.Asset)
	assert.Empty(t, base.Destination)

	wrapped := annotate(errors.New("plain"), "dest", "")
	assert.Equal(t, "replicate [dest]: plain", wrapped.Error())
}
