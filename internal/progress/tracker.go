package progress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

const (
	// DefaultInterval is how often the tracker renders when no interval is configured.
	DefaultInterval = 15 * time.Second

	labelWidth = 55
	barWidth   = 10
	filledBar  = "\U0001F7E9"
	emptyBar   = "\U0001F537"
	footer     = "=========="
)

// Reporter receives job updates.
type Reporter interface {
	Report(job mirrortypes.UploadJob)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWriter sets where snapshots are written. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(t *Tracker) {
		t.out = w
	}
}

// WithInterval sets the render interval.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the time source used by jobs created from the tracker.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker is a concurrency-safe table of upload jobs.
type Tracker struct {
	mu    sync.Mutex
	jobs  map[string]mirrortypes.UploadJob
	dirty bool

	out      io.Writer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

// NewTracker creates a Tracker. It does not render until Start is called.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		jobs:     make(map[string]mirrortypes.UploadJob),
		out:      os.Stdout,
		interval: DefaultInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Report upserts a job and marks the table dirty.
// Progress is clamped to [0,1] and never moves backwards for a given label.
func (t *Tracker) Report(job mirrortypes.UploadJob) {
	job.Progress = clamp(job.Progress)
	if !job.ETAKnown || math.IsNaN(job.ETA) || math.IsInf(job.ETA, 0) || job.ETA < 0 {
		job.ETA = 0
		job.ETAKnown = false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.jobs[job.Label]; ok && prev.Progress > job.Progress {
		return
	}
	t.jobs[job.Label] = job
	t.dirty = true
}

// Snapshot returns the jobs sorted by label.
func (t *Tracker) Snapshot() []mirrortypes.UploadJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []mirrortypes.UploadJob {
	jobs := make([]mirrortypes.UploadJob, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].Label < jobs[k].Label
	})
	return jobs
}

// Flush renders the table if it changed since the last render.
// It reports whether anything was written.
func (t *Tracker) Flush() bool {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return false
	}
	t.dirty = false
	jobs := t.snapshotLocked()
	t.mu.Unlock()

	if _, err := io.WriteString(t.out, Render(jobs)); err != nil {
		t.logger.Warn("failed to write progress snapshot", "error", err)
	}
	return true
}

// Start launches the background renderer. It stops when ctx is done or Stop is called.
// Calling Start on a running tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go t.run(ctx, t.stop, t.done)
}

func (t *Tracker) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			t.Flush()
		}
	}
}

// Stop halts the background renderer and writes a final snapshot if anything changed.
func (t *Tracker) Stop() {
	t.lifecycle.Lock()
	if t.stop != nil {
		close(t.stop)
		<-t.done
		t.stop = nil
		t.done = nil
	}
	t.lifecycle.Unlock()

	t.Flush()
}

// Job returns a handle that reports progress for one upload of total bytes.
// The ETA is measured from the moment Job is called.
func (t *Tracker) Job(label string, total int64) *Job {
	return &Job{
		reporter: t,
		label:    label,
		total:    total,
		now:      t.now,
		started:  t.now(),
	}
}

// Render formats jobs as a progress snapshot. Jobs are printed in the given order.
func Render(jobs []mirrortypes.UploadJob) string {
	var b strings.Builder
	for _, j := range jobs {
		b.WriteString(RenderLine(j))
		b.WriteByte('\n')
	}
	b.WriteString(footer)
	b.WriteByte('\n')
	return b.String()
}

// RenderLine formats a single job: padded label, bar, percentage and ETA.
func RenderLine(j mirrortypes.UploadJob) string {
	line := fmt.Sprintf("%-*s  %s  %.2f%%", labelWidth, j.Label, Bar(j.Progress), clamp(j.Progress)*100)
	if j.Done() {
		return line
	}
	if !j.ETAKnown {
		return line + " ~?s left"
	}
	return line + fmt.Sprintf(" ~%.2fs left", j.ETA)
}

// Bar renders a ten segment bar for progress.
func Bar(progress float64) string {
	filled := Filled(progress)
	return strings.Repeat(filledBar, filled) + strings.Repeat(emptyBar, barWidth-filled)
}

// Filled returns the number of filled bar segments for progress.
func Filled(progress float64) int {
	n := int(math.Floor(clamp(progress) * barWidth))
	return max(0, min(barWidth, n))
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
