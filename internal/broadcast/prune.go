package broadcast

import (
	"sort"
	"time"
)

// Prune evicts completed job statuses so registry memory stays bounded.
// Broadcasts can be submitted frequently, and keeping every status forever
// steadily retains memory. Deletion is safe for in-flight polls: snapshots
// are copies, and a subsequent poll of a swept id gets NotFound.
//
// Returns the number of entries removed.
func (r *Registry) Prune(now time.Time, ttl time.Duration, maxEntries int) int {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultStatusMax
	}

	removed := 0
	cutoff := now.Add(-ttl)

	// 1) Drop completed jobs older than TTL.
	r.mu.Lock()
	for id, j := range r.jobs {
		if j == nil {
			delete(r.jobs, id)
			removed++
			continue
		}
		if j.finishedBefore(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}

	over := len(r.jobs) - maxEntries
	if over <= 0 {
		r.mu.Unlock()
		return removed
	}

	// 2) Still too big: drop oldest completed jobs. Running jobs are never
	// evicted regardless of pressure.
	type cand struct {
		id string
		t  time.Time
	}
	cands := make([]cand, 0, len(r.jobs))
	for id, j := range r.jobs {
		key, running := j.sortKey()
		if running {
			continue
		}
		cands = append(cands, cand{id: id, t: key})
	}
	sort.Slice(cands, func(i, k int) bool { return cands[i].t.Before(cands[k].t) })

	for i := 0; i < len(cands) && over > 0; i++ {
		delete(r.jobs, cands[i].id)
		removed++
		over--
	}
	r.mu.Unlock()
	return removed
}
