package broadcast

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailcast/internal/mailer"
	logx "mailcast/pkg/logx"
)

type Config struct {
	// Concurrency requests outside [MinConcurrency, MaxConcurrency] are
	// clamped, not rejected (mirrors the submitting UI's own clamping).
	MinConcurrency     int
	MaxConcurrency     int
	DefaultConcurrency int

	// SyncThreshold: jobs with at most this many recipients run synchronously
	// inside Submit and return a final summary with no job id. 0 disables the
	// shortcut.
	SyncThreshold int

	// RatePerSec caps transport sends across all jobs. 0 means unlimited.
	RatePerSec int

	// MaxFailuresKept optionally bounds per-job failure detail. 0 keeps every
	// (recipient, reason) entry, which is what makes resubmitting the failed
	// subset possible; set a cap only to bound memory. The failed counter is
	// always exact either way.
	MaxFailuresKept int

	// Retention knobs for the registry sweep.
	StatusTTL time.Duration
	StatusMax int
}

const (
	defaultMinConcurrency = 1
	defaultMaxConcurrency = 100
	defaultConcurrency    = 50
	defaultStatusTTL      = 24 * time.Hour
	defaultStatusMax      = 200
)

func (c Config) withDefaults() Config {
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = defaultMinConcurrency
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.MaxConcurrency < c.MinConcurrency {
		c.MaxConcurrency = c.MinConcurrency
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = defaultConcurrency
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = defaultStatusTTL
	}
	if c.StatusMax <= 0 {
		c.StatusMax = defaultStatusMax
	}
	return c
}

// Message is the composed payload delivered to every recipient of a job.
type Message struct {
	Subject string
	Body    string
}

// Failure records one failed delivery attempt for post-hoc reporting.
type Failure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// Status is a consistent point-in-time snapshot of a job. Always a copy;
// safe to hold across registry sweeps.
type Status struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject,omitempty"`
	Total      int       `json:"total"`
	Done       int       `json:"done"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Complete   bool      `json:"complete"`
	Failures   []Failure `json:"failures,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// SubmitRequest is the engine-facing submit contract.
type SubmitRequest struct {
	Subject     string
	Body        string
	Recipients  []string
	Concurrency int
}

// SubmitResult distinguishes the two submit paths by JobID presence:
// async returns a handle to poll, the small-job shortcut returns the final
// summary instead.
type SubmitResult struct {
	JobID   string
	Total   int
	Summary *Status
}

// CompletionHook observes finished jobs (logging, audit persistence). It runs
// outside the tracker lock on the last worker's goroutine.
type CompletionHook func(Status)

// Service coordinates broadcast jobs end to end.
type Service struct {
	mu sync.Mutex

	cfg       Config
	deliverer mailer.Deliverer
	log       logx.Logger

	limiter  *rate.Limiter
	registry *Registry

	onComplete CompletionHook

	runCtx    context.Context
	runCancel context.CancelFunc
	jobWG     sync.WaitGroup
}
