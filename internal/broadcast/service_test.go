package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "mailcast/pkg/logx"
)

// fakeDeliverer is a controllable Deliverer: per-recipient failures, optional
// latency, attempt counting, and in-flight tracking for concurrency checks.
type fakeDeliverer struct {
	delay   time.Duration
	failFor map[string]string // recipient -> reason

	mu       sync.Mutex
	attempts map[string]int

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{attempts: map[string]int{}}
}

func (f *fakeDeliverer) Deliver(ctx context.Context, recipient, subject, body string) error {
	cur := f.inflight.Add(1)
	for {
		prev := f.maxInflight.Load()
		if cur <= prev || f.maxInflight.CompareAndSwap(prev, cur) {
			break
		}
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	f.attempts[recipient]++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if reason, ok := f.failFor[recipient]; ok {
		return errors.New(reason)
	}
	return nil
}

func (f *fakeDeliverer) attemptCount(recipient string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[recipient]
}

func newTestService(t *testing.T, cfg Config, d *fakeDeliverer) *Service {
	t.Helper()
	svc := New(cfg, d, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", timeout)
}

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("recipient%d@example.com", i+1)
	}
	return out
}

func TestSubmitAsyncAllSucceed(t *testing.T) {
	d := newFakeDeliverer()
	svc := newTestService(t, Config{}, d)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:     "hello",
		Body:        "world",
		Recipients:  recipients(5),
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.JobID == "" {
		t.Fatal("expected a job id on the async path")
	}
	if res.Total != 5 {
		t.Fatalf("total = %d, want 5", res.Total)
	}

	pollUntil(t, 5*time.Second, func() bool {
		st, err := svc.Status(res.JobID)
		return err == nil && st.Complete
	})

	st, err := svc.Status(res.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Done != 5 || st.Total != 5 || st.Succeeded != 5 || st.Failed != 0 {
		t.Fatalf("final state = %+v", st)
	}
	if st.FinishedAt.IsZero() {
		t.Fatal("finished job must carry FinishedAt")
	}
}

func TestSubmitRecordsFailureReason(t *testing.T) {
	d := newFakeDeliverer()
	d.failFor = map[string]string{"recipient3@example.com": "mailbox full"}
	svc := newTestService(t, Config{}, d)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:     "hello",
		Body:        "world",
		Recipients:  recipients(4),
		Concurrency: 4,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pollUntil(t, 5*time.Second, func() bool {
		st, err := svc.Status(res.JobID)
		return err == nil && st.Complete
	})

	st, _ := svc.Status(res.JobID)
	if st.Done != 4 || st.Succeeded != 3 || st.Failed != 1 {
		t.Fatalf("final state = %+v", st)
	}
	if len(st.Failures) != 1 {
		t.Fatalf("failures = %v, want exactly one", st.Failures)
	}
	f := st.Failures[0]
	if f.Recipient != "recipient3@example.com" || f.Reason != "mailbox full" {
		t.Fatalf("failure = %+v", f)
	}
}

func TestSubmitEmptyRecipients(t *testing.T) {
	svc := newTestService(t, Config{}, newFakeDeliverer())

	_, err := svc.Submit(context.Background(), SubmitRequest{Subject: "s", Body: "b"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if n := svc.Registry().Len(); n != 0 {
		t.Fatalf("registry has %d entries after rejected submit", n)
	}
}

func TestSubmitRejectsBlankMessage(t *testing.T) {
	svc := newTestService(t, Config{}, newFakeDeliverer())

	for _, req := range []SubmitRequest{
		{Subject: "  ", Body: "b", Recipients: recipients(1)},
		{Subject: "s", Body: "\n", Recipients: recipients(1)},
	} {
		if _, err := svc.Submit(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("req %+v: err = %v, want ErrInvalidRequest", req, err)
		}
	}
}

func TestSyncShortcut(t *testing.T) {
	d := newFakeDeliverer()
	d.failFor = map[string]string{"recipient2@example.com": "rejected"}
	svc := newTestService(t, Config{SyncThreshold: 10}, d)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:    "s",
		Body:       "b",
		Recipients: recipients(3),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.JobID != "" {
		t.Fatalf("sync path returned a job id: %q", res.JobID)
	}
	if res.Summary == nil {
		t.Fatal("sync path must return a summary")
	}
	if !res.Summary.Complete || res.Summary.Done != 3 || res.Summary.Succeeded != 2 || res.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	// Synchronously completed jobs are never registered for polling.
	if n := svc.Registry().Len(); n != 0 {
		t.Fatalf("registry has %d entries after sync job", n)
	}
}

func TestExactlyOnceAttempts(t *testing.T) {
	d := newFakeDeliverer()
	svc := newTestService(t, Config{}, d)

	rcpts := recipients(200)
	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:     "s",
		Body:        "b",
		Recipients:  rcpts,
		Concurrency: 8,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pollUntil(t, 10*time.Second, func() bool {
		st, err := svc.Status(res.JobID)
		return err == nil && st.Complete
	})

	for _, r := range rcpts {
		if n := d.attemptCount(r); n != 1 {
			t.Fatalf("recipient %s attempted %d times", r, n)
		}
	}
}

func TestConcurrencyNeverExceedsBound(t *testing.T) {
	d := newFakeDeliverer()
	d.delay = 5 * time.Millisecond
	svc := newTestService(t, Config{}, d)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:     "s",
		Body:        "b",
		Recipients:  recipients(40),
		Concurrency: 3,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pollUntil(t, 10*time.Second, func() bool {
		st, err := svc.Status(res.JobID)
		return err == nil && st.Complete
	})
	if peak := d.maxInflight.Load(); peak > 3 {
		t.Fatalf("observed %d concurrent deliveries, bound is 3", peak)
	}
}

func TestInvariantHoldsDuringRun(t *testing.T) {
	d := newFakeDeliverer()
	d.delay = time.Millisecond
	svc := newTestService(t, Config{}, d)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:     "s",
		Body:        "b",
		Recipients:  recipients(50),
		Concurrency: 5,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Poll aggressively while workers run; every snapshot must satisfy
	// 0 <= succeeded + failed == done <= total.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st, err := svc.Status(res.JobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Succeeded+st.Failed != st.Done {
			t.Fatalf("partition violated: %+v", st)
		}
		if st.Done > st.Total {
			t.Fatalf("done overran total: %+v", st)
		}
		if st.Complete != (st.Done == st.Total) {
			t.Fatalf("complete flag inconsistent: %+v", st)
		}
		if st.Complete {
			return
		}
	}
	t.Fatal("job did not complete in time")
}

func TestConcurrentJobsAreIndependent(t *testing.T) {
	d := newFakeDeliverer()
	d.delay = time.Millisecond
	svc := newTestService(t, Config{}, d)

	// Overlapping recipient sets on purpose.
	resA, err := svc.Submit(context.Background(), SubmitRequest{
		Subject: "a", Body: "b", Recipients: recipients(30), Concurrency: 4,
	})
	if err != nil {
		t.Fatalf("Submit A: %v", err)
	}
	resB, err := svc.Submit(context.Background(), SubmitRequest{
		Subject: "b", Body: "b", Recipients: recipients(20), Concurrency: 4,
	})
	if err != nil {
		t.Fatalf("Submit B: %v", err)
	}

	pollUntil(t, 10*time.Second, func() bool {
		a, errA := svc.Status(resA.JobID)
		b, errB := svc.Status(resB.JobID)
		return errA == nil && errB == nil && a.Complete && b.Complete
	})

	a, _ := svc.Status(resA.JobID)
	b, _ := svc.Status(resB.JobID)
	if a.Total != 30 || a.Done != 30 {
		t.Fatalf("job A state = %+v", a)
	}
	if b.Total != 20 || b.Done != 20 {
		t.Fatalf("job B state = %+v", b)
	}
}

func TestFailureRecordIsCompleteByDefault(t *testing.T) {
	d := newFakeDeliverer()
	rcpts := recipients(1500)
	d.failFor = make(map[string]string, len(rcpts))
	for _, r := range rcpts {
		d.failFor[r] = "relay refused"
	}
	svc := newTestService(t, Config{}, d)

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:    "s",
		Body:       "b",
		Recipients: rcpts,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pollUntil(t, 10*time.Second, func() bool {
		st, err := svc.Status(res.JobID)
		return err == nil && st.Complete
	})

	st, _ := svc.Status(res.JobID)
	if st.Failed != 1500 {
		t.Fatalf("failed = %d, want 1500", st.Failed)
	}
	// Every (recipient, reason) entry is kept; resubmitting the failed subset
	// needs the full record, not a truncated one.
	if len(st.Failures) != 1500 {
		t.Fatalf("kept %d failure entries, want 1500", len(st.Failures))
	}
	seen := make(map[string]bool, len(st.Failures))
	for _, f := range st.Failures {
		seen[f.Recipient] = true
	}
	for _, r := range rcpts {
		if !seen[r] {
			t.Fatalf("failure record missing %s", r)
		}
	}
}

func TestMoreWorkersNeverSlower(t *testing.T) {
	const n = 24
	run := func(k int) time.Duration {
		d := newFakeDeliverer()
		d.delay = 5 * time.Millisecond
		svc := newTestService(t, Config{SyncThreshold: n}, d)
		start := time.Now()
		if _, err := svc.Submit(context.Background(), SubmitRequest{
			Subject: "s", Body: "b", Recipients: recipients(n), Concurrency: k,
		}); err != nil {
			t.Fatalf("Submit with %d workers: %v", k, err)
		}
		return time.Since(start)
	}

	serial := run(1)
	parallel := run(8)
	// Coarse on purpose: 8 workers over 24 deliveries of 5ms each should land
	// far under the ~120ms single-worker baseline even on a noisy scheduler.
	if parallel > serial {
		t.Fatalf("8 workers took %v, single worker took %v", parallel, serial)
	}
}

func TestSubmitAfterStopRejected(t *testing.T) {
	d := newFakeDeliverer()
	svc := New(Config{SyncThreshold: 10}, d, logx.Nop())
	svc.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Stop(ctx)

	// Small jobs are refused too: a stopped service performs no sends on
	// either submit path.
	_, err := svc.Submit(context.Background(), SubmitRequest{
		Subject: "s", Body: "b", Recipients: recipients(2),
	})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if n := d.attemptCount("recipient1@example.com"); n != 0 {
		t.Fatalf("stopped service attempted %d deliveries", n)
	}
}

func TestStatusUnknownID(t *testing.T) {
	svc := newTestService(t, Config{}, newFakeDeliverer())
	if _, err := svc.Status("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStopFinalizesInFlightJob(t *testing.T) {
	d := newFakeDeliverer()
	d.delay = 50 * time.Millisecond
	svc := New(Config{}, d, logx.Nop())
	svc.Start(context.Background())

	res, err := svc.Submit(context.Background(), SubmitRequest{
		Subject:     "s",
		Body:        "b",
		Recipients:  recipients(30),
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Stop cancels the run context; pending attempts fail fast but are still
	// recorded, so the tracker reaches done == total.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Stop(ctx)

	st, err := svc.Status(res.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Complete || st.Done != st.Total {
		t.Fatalf("job not finalized after Stop: %+v", st)
	}
	if st.Succeeded+st.Failed != st.Done {
		t.Fatalf("partition violated after Stop: %+v", st)
	}
}

func TestClampConcurrency(t *testing.T) {
	cfg := Config{MinConcurrency: 1, MaxConcurrency: 100, DefaultConcurrency: 50}.withDefaults()
	cases := []struct {
		requested, total, want int
	}{
		{0, 1000, 50},   // default
		{-3, 1000, 50},  // default
		{200, 1000, 100}, // clamped to max
		{7, 1000, 7},
		{50, 10, 10}, // capped at recipient count
		{1, 5, 1},
	}
	for _, c := range cases {
		if got := clampConcurrency(c.requested, cfg, c.total); got != c.want {
			t.Errorf("clampConcurrency(%d, total=%d) = %d, want %d", c.requested, c.total, got, c.want)
		}
	}
}
