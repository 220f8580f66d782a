package testutil

import (
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/mirror/mirrortypes"
)

// RecordingReporter records every job update it receives.
type RecordingReporter struct {
	mu      sync.Mutex
	Updates []mirrortypes.UploadJob
}

// Report records a job update.
func (r *RecordingReporter) Report(job mirrortypes.UploadJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates = append(r.Updates, job)
}

// ForLabel returns the updates recorded for label, in order.
func (r *RecordingReporter) ForLabel(label string) []mirrortypes.UploadJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []mirrortypes.UploadJob
	for _, u := range r.Updates {
		if u.Label == label {
			out = append(out, u)
		}
	}
	return out
}

// Reset clears the recorded updates.
func (r *RecordingReporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates = nil
}
