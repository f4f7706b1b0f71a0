package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "mailcast/pkg/logx"
)

// runJob drives one broadcast to completion: the queue is seeded with every
// recipient before any worker starts, then `workers` goroutines drain it.
// Each recipient is dequeued by exactly one worker and attempted exactly
// once; a failed attempt is recorded and never aborts the job. runJob returns
// only after every worker has exited and every attempt is in the tracker.
func (s *Service) runJob(ctx context.Context, j *Job, recipients []string, msg Message, workers int) {
	start := time.Now()
	s.log.Info("broadcast job started",
		logx.String("job", j.id), logx.Int("total", len(recipients)), logx.Int("workers", workers))

	queue := make(chan string, len(recipients))
	for _, r := range recipients {
		queue <- r
	}
	close(queue)

	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			s.log.Debug("worker started", logx.String("job", j.id), logx.Int("worker", idx))
			for r := range queue {
				if err := s.attempt(ctx, r, msg); err != nil {
					j.RecordFailure(r, err.Error())
					s.log.Warn("delivery failed",
						logx.String("job", j.id), logx.String("recipient", r), logx.Err(err))
				} else {
					j.RecordSuccess()
				}
			}
			s.log.Debug("worker stopped", logx.String("job", j.id), logx.Int("worker", idx))
		}()
	}
	wg.Wait()

	st := j.Snapshot()
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.Int("total", st.Total),
		logx.Int("succeeded", st.Succeeded),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if st.Failed > 0 {
		s.log.Warn("broadcast job finished with failures", fields...)
	} else {
		s.log.Info("broadcast job finished", fields...)
	}

	s.mu.Lock()
	hook := s.onComplete
	s.mu.Unlock()
	if hook != nil {
		hook(st)
	}
}

// attempt performs one delivery, converting every failure mode (transport
// error, rate-limiter cancellation, panic in the deliverer) into an error so
// the caller always records exactly one outcome per recipient.
func (s *Service) attempt(ctx context.Context, recipient string, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during delivery: %v", r)
			s.log.Error("panic in delivery attempt",
				logx.String("recipient", recipient), logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	// Snapshot mutable dependencies to avoid races with Apply().
	s.mu.Lock()
	lim := s.limiter
	d := s.deliverer
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	return d.Deliver(ctx, recipient, msg.Subject, msg.Body)
}
