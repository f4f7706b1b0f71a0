package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"mailcast/internal/mailer"
	logx "mailcast/pkg/logx"
)

func New(cfg Config, deliverer mailer.Deliverer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		deliverer: deliverer,
		log:       log,
		limiter:   newLimiter(cfg.RatePerSec),
		registry:  NewRegistry(),
	}
}

func newLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}

// SetCompletionHook installs an observer for finished jobs. Call before Start.
func (s *Service) SetCompletionHook(fn CompletionHook) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// Registry exposes the job table for polling handlers and the retention sweep.
func (s *Service) Registry() *Registry { return s.registry }

// Apply swaps tunables at runtime (config hot reload). In-flight jobs keep the
// worker count they started with; the limiter switch takes effect immediately.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = newLimiter(cfg.RatePerSec)
	s.mu.Unlock()
}

// Start establishes the run context that async jobs are bound to, so a
// submitter's request context going away never cancels a scheduled broadcast.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.log.Info("broadcast service started",
		logx.Int("max_concurrency", s.cfg.MaxConcurrency),
		logx.Int("sync_threshold", s.cfg.SyncThreshold),
		logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop cancels in-flight delivery attempts and waits for running jobs to
// finalize (every remaining recipient is still recorded, as a failure, so
// trackers reach done == total rather than wedging).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	start := time.Now()
	cancel()

	done := make(chan struct{})
	go func() {
		s.jobWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("broadcast service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("broadcast service stop timed out; jobs finalizing in background")
	}
}

// Submit validates the request and either runs it to completion synchronously
// (small-job shortcut) or registers a job and returns its id immediately.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	recipients := collapseRecipients(req.Recipients)
	if len(recipients) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: empty recipient list", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Subject) == "" {
		return SubmitResult{}, fmt.Errorf("%w: empty subject", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Body) == "" {
		return SubmitResult{}, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}

	s.mu.Lock()
	cfg := s.cfg
	runCtx := s.runCtx
	s.mu.Unlock()

	// A stopped service performs no sends at all, on either submit path.
	if runCtx == nil || runCtx.Err() != nil {
		return SubmitResult{}, ErrStopped
	}

	msg := Message{Subject: req.Subject, Body: req.Body}
	workers := clampConcurrency(req.Concurrency, cfg, len(recipients))
	total := len(recipients)
	id := uuid.NewString()

	// Small-job shortcut: finish within the request cycle, no handle needed.
	if cfg.SyncThreshold > 0 && total <= cfg.SyncThreshold {
		j := newJob(id, req.Subject, total, cfg.MaxFailuresKept)
		s.log.Debug("broadcast running synchronously",
			logx.String("job", id), logx.Int("total", total), logx.Int("workers", workers))
		s.runJob(ctx, j, recipients, msg, workers)
		st := j.Snapshot()
		return SubmitResult{Total: total, Summary: &st}, nil
	}

	j := newJob(id, req.Subject, total, cfg.MaxFailuresKept)
	if err := s.registry.Create(j); err != nil {
		return SubmitResult{}, err
	}

	s.jobWG.Add(1)
	go func() {
		defer s.jobWG.Done()
		s.runJob(runCtx, j, recipients, msg, workers)
	}()

	s.log.Info("broadcast job submitted",
		logx.String("job", id), logx.Int("total", total), logx.Int("workers", workers))
	return SubmitResult{JobID: id, Total: total}, nil
}

// Status snapshots a registered job. Unknown ids yield ErrNotFound.
func (s *Service) Status(id string) (Status, error) {
	j, err := s.registry.Get(id)
	if err != nil {
		return Status{}, err
	}
	return j.Snapshot(), nil
}

// clampConcurrency maps the requested worker count into the configured range
// and caps it at the recipient count (extra workers would just idle).
func clampConcurrency(requested int, cfg Config, total int) int {
	k := requested
	if k <= 0 {
		k = cfg.DefaultConcurrency
	}
	if k < cfg.MinConcurrency {
		k = cfg.MinConcurrency
	}
	if k > cfg.MaxConcurrency {
		k = cfg.MaxConcurrency
	}
	if k > total {
		k = total
	}
	return k
}

// collapseRecipients trims entries and drops empties while preserving order.
// Syntactic address validation happens at the API boundary; the engine only
// refuses blanks it could never attempt.
func collapseRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	for _, r := range in {
		if t := strings.TrimSpace(r); t != "" {
			out = append(out, t)
		}
	}
	return out
}
