package progress

import (
	"sync"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// Job reports progress for a single upload.
type Job struct {
	reporter Reporter
	label    string
	total    int64
	now      func() time.Time
	started  time.Time

	mu   sync.Mutex
	sent int64
}

// NewJob creates a job reporting to r. A nil now uses time.Now.
func NewJob(r Reporter, label string, total int64, now func() time.Time) *Job {
	if now == nil {
		now = time.Now
	}
	return &Job{
		reporter: r,
		label:    label,
		total:    total,
		now:      now,
		started:  now(),
	}
}

// Label returns the job label.
func (j *Job) Label() string {
	return j.label
}

// Update records that sent of total bytes have been transmitted.
// Its signature matches the progress callback accepted by destinations.
func (j *Job) Update(sent, total int64) {
	if total <= 0 {
		total = j.total
	}

	var fraction float64
	switch {
	case total <= 0:
		fraction = 1
	default:
		fraction = float64(sent) / float64(total)
	}

	j.mu.Lock()
	j.sent = sent
	j.mu.Unlock()

	eta, known := Estimate(j.now().Sub(j.started), fraction)
	j.reporter.Report(mirrortypes.UploadJob{
		Label:    j.label,
		Progress: fraction,
		ETA:      eta,
		ETAKnown: known,
	})
}

// Sent returns the last reported byte count.
func (j *Job) Sent() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sent
}

// Complete marks the job as finished.
func (j *Job) Complete() {
	j.reporter.Report(mirrortypes.UploadJob{
		Label:    j.label,
		Progress: 1,
		ETAKnown: true,
	})
}
