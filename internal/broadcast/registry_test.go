package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func completedJob(id string, finishedAgo time.Duration) *Job {
	j := newJob(id, "s", 1, 100)
	j.RecordSuccess()
	j.mu.Lock()
	j.finishedAt = time.Now().Add(-finishedAgo)
	j.mu.Unlock()
	return j
}

func TestRegistryCreateGet(t *testing.T) {
	r := NewRegistry()
	j := newJob("job-1", "s", 3, 100)
	if err := r.Create(j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := r.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != j {
		t.Fatal("Get returned a different job")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	r := NewRegistry()
	if err := r.Create(newJob("dup", "s", 1, 100)); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := r.Create(newJob("dup", "s", 1, 100)); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d after rejected duplicate", r.Len())
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	_ = r.Create(newJob("gone", "s", 1, 100))
	r.Delete("gone")
	if _, err := r.Get("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v after Delete, want ErrNotFound", err)
	}
	// Deleting an unknown id is a no-op.
	r.Delete("never-existed")
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		_ = r.Create(newJob(fmt.Sprintf("job-%d", i), "s", 1, 100))
	}
	got := r.List()
	if len(got) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(got))
	}
	seen := map[string]bool{}
	for _, st := range got {
		seen[st.ID] = true
	}
	for i := 0; i < 3; i++ {
		if !seen[fmt.Sprintf("job-%d", i)] {
			t.Fatalf("List missing job-%d: %v", i, got)
		}
	}
}

func TestPruneEvictsExpiredCompleted(t *testing.T) {
	r := NewRegistry()
	_ = r.Create(completedJob("old", 48*time.Hour))
	_ = r.Create(completedJob("fresh", time.Minute))
	running := newJob("running", "s", 5, 100)
	_ = r.Create(running)

	removed := r.Prune(time.Now(), 24*time.Hour, 100)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := r.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expired job survived the sweep")
	}
	if _, err := r.Get("fresh"); err != nil {
		t.Fatal("fresh job was evicted")
	}
	if _, err := r.Get("running"); err != nil {
		t.Fatal("running job was evicted")
	}
}

func TestPruneEnforcesMaxEntries(t *testing.T) {
	r := NewRegistry()
	// Oldest finished first; all within TTL.
	for i := 0; i < 5; i++ {
		_ = r.Create(completedJob(fmt.Sprintf("done-%d", i), time.Duration(5-i)*time.Minute))
	}
	_ = r.Create(newJob("running", "s", 5, 100))

	removed := r.Prune(time.Now(), 24*time.Hour, 3)
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d after prune, want 3", r.Len())
	}
	// The oldest completed jobs go first; the running job is untouchable.
	for _, id := range []string{"done-0", "done-1", "done-2"} {
		if _, err := r.Get(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s should have been evicted", id)
		}
	}
	if _, err := r.Get("running"); err != nil {
		t.Fatal("running job was evicted under size pressure")
	}
}

func TestPruneNeverEvictsRunningUnderPressure(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 10; i++ {
		_ = r.Create(newJob(fmt.Sprintf("running-%d", i), "s", 5, 100))
	}
	if removed := r.Prune(time.Now(), time.Nanosecond, 2); removed != 0 {
		t.Fatalf("removed %d running jobs", removed)
	}
	if r.Len() != 10 {
		t.Fatalf("Len = %d, want 10", r.Len())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				id := fmt.Sprintf("job-%d-%d", i, k)
				_ = r.Create(completedJob(id, time.Minute))
				_, _ = r.Get(id)
				_ = r.List()
				if k%10 == 0 {
					r.Prune(time.Now(), 24*time.Hour, 100)
				}
			}
		}(i)
	}
	wg.Wait()
}
