package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	mirrorerrors "github.com/input-output-hk/catalyst-forge-libs/mirror/errors"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/destination"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/pool"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/progress"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/internal/source"
	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// Replicator runs replication from one source to many destinations.
type Replicator struct {
	source       source.Source
	destinations []destination.Destination
	labels       map[string]string

	tracker *progress.Tracker
	limiter *pool.Limiter
	policy  mirrortypes.AssetFailurePolicy
	exclude []string
	logger  *slog.Logger
	runID   func() string
	now     func() time.Time
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithTracker sets the progress tracker. Defaults to a tracker printing to stdout.
func WithTracker(t *progress.Tracker) Option {
	return func(r *Replicator) {
		if t != nil {
			r.tracker = t
		}
	}
}

// WithLimiter bounds concurrent fetches and uploads across all destinations.
func WithLimiter(l *pool.Limiter) Option {
	return func(r *Replicator) {
		r.limiter = l
	}
}

// WithPolicy sets the asset failure policy. Defaults to AbortDestination.
func WithPolicy(p mirrortypes.AssetFailurePolicy) Option {
	return func(r *Replicator) {
		r.policy = p
	}
}

// WithExcludeSuffixes sets the asset name suffixes that are never replicated.
func WithExcludeSuffixes(suffixes ...string) Option {
	return func(r *Replicator) {
		r.exclude = suffixes
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Replicator) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(r *Replicator) {
		if fn != nil {
			r.runID = fn
		}
	}
}

// New creates a Replicator. Destination ids must be unique.
func New(src source.Source, dests []destination.Destination, opts ...Option) (*Replicator, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: source is required", mirrorerrors.ErrInvalidConfig)
	}
	if len(dests) == 0 {
		return nil, mirrorerrors.ErrNoDestinations
	}

	r := &Replicator{
		source:       src,
		destinations: dests,
		policy:       mirrortypes.AbortDestination,
		exclude:      []string{mirrortypes.DefaultExcludedSuffix},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		runID:        uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if !r.policy.Valid() {
		return nil, fmt.Errorf("%w: unknown asset failure policy %q", mirrorerrors.ErrInvalidConfig, r.policy)
	}
	if r.tracker == nil {
		r.tracker = progress.NewTracker(progress.WithLogger(r.logger))
	}

	labels, err := labelTags(dests)
	if err != nil {
		return nil, err
	}
	r.labels = labels

	return r, nil
}

// labelTags picks the progress label tag of every destination. A tag shared by several
// destinations is replaced by their ids so labels stay unique per (destination, asset).
func labelTags(dests []destination.Destination) (map[string]string, error) {
	ids := make(map[string]bool, len(dests))
	tagCount := make(map[string]int, len(dests))
	for _, d := range dests {
		if ids[d.ID()] {
			return nil, fmt.Errorf("%w: duplicate destination id %q", mirrorerrors.ErrInvalidConfig, d.ID())
		}
		ids[d.ID()] = true
		tagCount[d.Tag()]++
	}

	labels := make(map[string]string, len(dests))
	for _, d := range dests {
		if tagCount[d.Tag()] > 1 {
			labels[d.ID()] = d.ID()
		} else {
			labels[d.ID()] = d.Tag()
		}
	}
	return labels, nil
}

// Run replicates the latest release. It returns an error only when the release could not
// be gathered; destination failures are reported in the result.
func (r *Replicator) Run(ctx context.Context) (*mirrortypes.RunResult, error) {
	start := r.now()
	runID := r.runID()
	logger := r.logger.With("run_id", runID)

	gathered, err := source.Gather(ctx, r.source, r.limiter, r.exclude, logger)
	if err != nil {
		logger.Error("failed to gather release", "error", err)
		return nil, err
	}

	r.tracker.Start(ctx)
	defer r.tracker.Stop()

	results := make([]mirrortypes.DestinationResult, len(r.destinations))
	var wg sync.WaitGroup
	for i, d := range r.destinations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.replicate(ctx, d, gathered, logger.With("destination", d.ID()))
		}()
	}
	wg.Wait()

	result := &mirrortypes.RunResult{
		RunID:    runID,
		Release:  gathered.Release,
		Assets:   gathered.Names(),
		Results:  results,
		Duration: r.now().Sub(start),
	}

	for _, res := range results {
		if res.Succeeded() {
			logger.Info("destination done", "destination", res.Destination, "assets", len(res.Uploaded), "duration", res.Duration)
		} else {
			logger.Error("destination failed", "destination", res.Destination, "failed_in", string(res.FailedIn),
				"code", string(mirrorerrors.Code(res.Err)), "error", res.Err)
		}
	}
	return result, nil
}

// destinationRun holds the state of one destination within one run.
// It is owned by the goroutine replicating that destination.
type destinationRun struct {
	dest   destination.Destination
	label  string
	logger *slog.Logger

	mu       sync.Mutex
	state    mirrortypes.DestinationState
	failedIn mirrortypes.DestinationState
}

// enter moves the destination forward. Steps never move back, so the first asset to
// reach finalize moves the destination to StateFinalizing while siblings still upload.
func (dr *destinationRun) enter(s mirrortypes.DestinationState) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if stateOrder[s] <= stateOrder[dr.state] {
		return
	}
	dr.state = s
	dr.logger.Debug("destination state", "state", string(s))
}

// fail records the step of the first failure.
func (dr *destinationRun) fail(step mirrortypes.DestinationState) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if dr.failedIn == "" {
		dr.failedIn = step
	}
}

var stateOrder = map[mirrortypes.DestinationState]int{
	mirrortypes.StateNotStarted:      0,
	mirrortypes.StateCreatingRelease: 1,
	mirrortypes.StateUploadingAssets: 2,
	mirrortypes.StateFinalizing:      3,
	mirrortypes.StateDone:            4,
}

func (r *Replicator) replicate(
	ctx context.Context,
	d destination.Destination,
	gathered *source.Gathered,
	logger *slog.Logger,
) mirrortypes.DestinationResult {
	start := r.now()
	dr := &destinationRun{
		dest:   d,
		label:  r.labels[d.ID()],
		logger: logger,
		state:  mirrortypes.StateNotStarted,
	}

	result := func(err error, uploaded []string) mirrortypes.DestinationResult {
		res := mirrortypes.DestinationResult{
			Destination: d.ID(),
			State:       mirrortypes.StateDone,
			Uploaded:    uploaded,
			Duration:    r.now().Sub(start),
		}
		if err != nil {
			if ctx.Err() != nil && !errors.Is(err, mirrorerrors.ErrCanceled) {
				err = fmt.Errorf("%w: %w", mirrorerrors.ErrCanceled, err)
			}
			res.State = mirrortypes.StateFailed
			res.FailedIn = dr.failedIn
			res.Err = err
		}
		return res
	}

	dr.enter(mirrortypes.StateCreatingRelease)
	if err := ctx.Err(); err != nil {
		dr.fail(mirrortypes.StateCreatingRelease)
		return result(annotate(err, d.ID(), ""), nil)
	}
	handle, err := d.CreateRelease(ctx, gathered.Release)
	if err != nil {
		dr.fail(mirrortypes.StateCreatingRelease)
		return result(annotate(err, d.ID(), ""), nil)
	}

	dr.enter(mirrortypes.StateUploadingAssets)
	finalized := make([]bool, len(gathered.Assets))
	err = r.forEachAsset(ctx, gathered.Assets, func(ctx context.Context, i int, asset *mirrortypes.Asset) error {
		target, err := r.upload(ctx, dr, handle, asset)
		if err != nil {
			dr.fail(mirrortypes.StateUploadingAssets)
			return err
		}

		dr.enter(mirrortypes.StateFinalizing)
		if err := r.finalize(ctx, dr, target, asset); err != nil {
			dr.fail(mirrortypes.StateFinalizing)
			return err
		}
		finalized[i] = true
		return nil
	})

	var uploaded []string
	for i, ok := range finalized {
		if ok {
			uploaded = append(uploaded, gathered.Assets[i].Name)
		}
	}

	if err != nil {
		return result(err, uploaded)
	}

	dr.enter(mirrortypes.StateDone)
	return result(nil, uploaded)
}

// forEachAsset runs fn for every asset concurrently according to the failure policy.
// Under AbortDestination the first error cancels the remaining calls and is returned;
// under IsolateAsset every call runs to completion and all errors are joined.
func (r *Replicator) forEachAsset(
	ctx context.Context,
	assets []*mirrortypes.Asset,
	fn func(ctx context.Context, i int, asset *mirrortypes.Asset) error,
) error {
	if r.policy == mirrortypes.AbortDestination {
		g, gctx := errgroup.WithContext(ctx)
		for i, a := range assets {
			g.Go(func() error {
				return fn(gctx, i, a)
			})
		}
		return g.Wait()
	}

	errs := make([]error, len(assets))
	var wg sync.WaitGroup
	for i, a := range assets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(ctx, i, a)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Replicator) upload(
	ctx context.Context,
	dr *destinationRun,
	handle destination.ReleaseHandle,
	asset *mirrortypes.Asset,
) (destination.UploadTarget, error) {
	release, err := r.limiter.Acquire(ctx)
	if err != nil {
		return destination.UploadTarget{}, annotate(err, dr.dest.ID(), asset.Name)
	}
	defer release()

	target, err := dr.dest.ObtainUploadTarget(ctx, handle, asset)
	if err != nil {
		return destination.UploadTarget{}, annotate(err, dr.dest.ID(), asset.Name)
	}

	// The ETA clock starts with the transfer itself.
	job := r.tracker.Job(mirrortypes.JobLabel(dr.label, asset.Name), asset.Size())
	job.Update(0, asset.Size())

	if _, err := dr.dest.Upload(ctx, target, asset, job.Update); err != nil {
		return destination.UploadTarget{}, annotate(err, dr.dest.ID(), asset.Name)
	}
	job.Complete()

	dr.logger.Debug("asset sent", "asset", asset.Name, "bytes", asset.Size())
	return target, nil
}

func (r *Replicator) finalize(
	ctx context.Context,
	dr *destinationRun,
	target destination.UploadTarget,
	asset *mirrortypes.Asset,
) error {
	release, err := r.limiter.Acquire(ctx)
	if err != nil {
		return annotate(err, dr.dest.ID(), asset.Name)
	}
	defer release()

	if err := dr.dest.Finalize(ctx, target, asset); err != nil {
		return annotate(err, dr.dest.ID(), asset.Name)
	}
	return nil
}

// annotate attaches destination and asset context to err without mutating it.
func annotate(err error, dest, asset string) error {
	//nolint:errorlint // only an outermost operation error is re-tagged; anything else is wrapped
	if e, ok := err.(*mirrorerrors.Error); ok {
		tagged := *e
		if tagged.Destination == "" {
			tagged.Destination = dest
		}
		if tagged.Asset == "" {
			tagged.Asset = asset
		}
		return &tagged
	}
	return mirrorerrors.NewAssetError("replicate", dest, asset, err)
}
