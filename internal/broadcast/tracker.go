package broadcast

import (
	"sync"
	"time"
)

// Job tracks delivery progress for one broadcast. Counters are guarded by the
// job's own mutex so unrelated jobs never serialize each other. The invariant
// maintained under the lock: succeeded + failed == done <= total, and
// complete is true exactly when done == total.
type Job struct {
	id      string
	subject string
	total   int

	mu          sync.Mutex
	done        int
	succeeded   int
	failed      int
	failures    []Failure
	maxFailures int
	startedAt   time.Time
	finishedAt  time.Time
	complete    bool
}

func newJob(id, subject string, total, maxFailures int) *Job {
	return &Job{
		id:          id,
		subject:     subject,
		total:       total,
		maxFailures: maxFailures,
		startedAt:   time.Now(),
	}
}

func (j *Job) ID() string { return j.id }

// RecordSuccess counts one successful attempt.
func (j *Job) RecordSuccess() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.succeeded++
	j.advanceLocked()
}

// RecordFailure counts one failed attempt and keeps its (recipient, reason)
// entry. A positive maxFailures caps the detail kept; 0 keeps everything so
// the failed subset can be resubmitted.
func (j *Job) RecordFailure(recipient, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed++
	if j.maxFailures <= 0 || len(j.failures) < j.maxFailures {
		j.failures = append(j.failures, Failure{Recipient: recipient, Reason: reason})
	}
	j.advanceLocked()
}

// advanceLocked bumps done and finalizes in the same critical section as the
// last counter update, so a poll immediately after the final attempt already
// observes complete == true.
func (j *Job) advanceLocked() {
	j.done++
	if j.done >= j.total && !j.complete {
		j.complete = true
		j.finishedAt = time.Now()
	}
}

// Snapshot returns a consistent copy of the job state. It never observes a
// counter mid-update and holds the lock only for the copy.
func (j *Job) Snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		ID:         j.id,
		Subject:    j.subject,
		Total:      j.total,
		Done:       j.done,
		Succeeded:  j.succeeded,
		Failed:     j.failed,
		Complete:   j.complete,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
	if len(j.failures) > 0 {
		st.Failures = append([]Failure(nil), j.failures...)
	}
	return st
}

// finishedBefore reports completion older than the cutoff; used by the sweep.
func (j *Job) finishedBefore(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.complete && j.finishedAt.Before(cutoff)
}

// sortKey orders jobs for eviction: finished time for completed jobs,
// started time otherwise.
func (j *Job) sortKey() (t time.Time, running bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.complete {
		return j.finishedAt, false
	}
	return j.startedAt, true
}
