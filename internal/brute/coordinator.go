package brute

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ntlm-brute/internal/authn"
	"ntlm-brute/internal/creds"
)

// ErrInvalidConfiguration is returned by Run before any worker starts when
// the run cannot possibly succeed.
var ErrInvalidConfiguration = errors.New("invalid configuration")

const (
	DefaultPoolSize       = 2
	DefaultThrottle       = 2 * time.Second
	DefaultDequeueTimeout = 10 * time.Second
)

type Config struct {
	Target   authn.Target
	PoolSize int
	// Throttle is how long a worker sleeps after a rejected attempt before
	// taking the next pair.
	Throttle time.Duration
	// RateLimit caps the attempts per second of the whole pool. Zero means
	// no limit.
	RateLimit float64
	// DequeueTimeout bounds how long an idle worker waits for new pairs.
	// Zero waits until the queue is closed.
	DequeueTimeout time.Duration
	// StopOnSuccess stops every worker once any of them finds valid credentials.
	StopOnSuccess bool
}

func DefaultConfig() Config {
	return Config{
		PoolSize:       DefaultPoolSize,
		Throttle:       DefaultThrottle,
		DequeueTimeout: DefaultDequeueTimeout,
	}
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Found    []creds.Pair
	Workers  []WorkerStats
	Attempts int
	Started  time.Time
	Elapsed  time.Duration
}

type Coordinator struct {
	config Config
	source *creds.Source
	auth   authn.Authenticator
	logger *zap.Logger
	hook   AttemptHook
}

type Option func(*Coordinator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithAttemptHook registers fn to be called after every attempt, from the
// worker goroutine that made it.
func WithAttemptHook(fn AttemptHook) Option {
	return func(c *Coordinator) {
		c.hook = fn
	}
}

func NewCoordinator(config Config, source *creds.Source, auth authn.Authenticator, opts ...Option) *Coordinator {
	c := &Coordinator{
		config: config,
		source: source,
		auth:   auth,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) validate() error {
	if c.config.Target.URL == "" {
		return fmt.Errorf("%w: endpoint URL is empty", ErrInvalidConfiguration)
	}
	u, err := url.Parse(c.config.Target.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint %q is not an http(s) URL", ErrInvalidConfiguration, c.config.Target.URL)
	}
	if c.config.PoolSize < 1 {
		return fmt.Errorf("%w: pool size must be at least 1, got %d", ErrInvalidConfiguration, c.config.PoolSize)
	}
	if c.config.Throttle < 0 {
		return fmt.Errorf("%w: negative throttle %s", ErrInvalidConfiguration, c.config.Throttle)
	}
	if c.config.RateLimit < 0 {
		return fmt.Errorf("%w: negative rate limit %v", ErrInvalidConfiguration, c.config.RateLimit)
	}
	if c.source == nil || c.auth == nil {
		return fmt.Errorf("%w: missing credential source or authenticator", ErrInvalidConfiguration)
	}

	users, passwords, err := c.source.Count()
	if err != nil {
		return err
	}
	if users == 0 {
		return fmt.Errorf("%w: username list is empty", ErrInvalidConfiguration)
	}
	if passwords == 0 {
		return fmt.Errorf("%w: password list is empty", ErrInvalidConfiguration)
	}
	return nil
}

// Run tests every pair from the source against the target and returns the
// pairs that authenticated. Per-worker transport errors are recorded in the
// report, not returned. A source failure after validation is returned
// together with the report of the partial run.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Workers: make([]WorkerStats, c.config.PoolSize),
	}
	logger := c.logger.With(zap.String("run_id", report.RunID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := NewQueue()
	results := &ResultSet{}

	var onFound func()
	if c.config.StopOnSuccess {
		var once sync.Once
		onFound = func() {
			once.Do(func() {
				logger.Info("valid credentials found, stopping remaining workers")
				cancel()
			})
		}
	}

	logger.Info("starting workers",
		zap.String("target", c.config.Target.URL),
		zap.Int("pool_size", c.config.PoolSize))

	var limiter *rate.Limiter
	if c.config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.config.RateLimit), 1)
	}

	var wg conc.WaitGroup
	for i := range c.config.PoolSize {
		w := &worker{
			id:       i + 1,
			target:   c.config.Target,
			auth:     c.auth,
			queue:    queue,
			results:  results,
			limiter:  limiter,
			throttle: c.config.Throttle,
			timeout:  c.config.DequeueTimeout,
			onFound:  onFound,
			hook:     c.hook,
			logger:   logger.With(zap.Int("worker", i+1)),
		}
		wg.Go(func() {
			report.Workers[i] = w.run(ctx)
		})
	}

	var enqueued int
	srcErr := c.source.Each(ctx, func(p creds.Pair) error {
		if queue.Enqueue(p) {
			enqueued++
		}
		return nil
	})
	queue.Close()
	if srcErr != nil && ctx.Err() != nil && errors.Is(srcErr, ctx.Err()) {
		srcErr = nil
	}
	if srcErr != nil {
		logger.Error("credential enumeration failed, draining queued pairs", zap.Error(srcErr), zap.Int("enqueued", enqueued))
	}

	wg.Wait()

	report.Found = results.DrainAll()
	for _, w := range report.Workers {
		report.Attempts += w.Attempts
	}
	report.Elapsed = time.Since(report.Started)

	logger.Info("run complete",
		zap.Int("attempts", report.Attempts),
		zap.Int("found", len(report.Found)),
		zap.Duration("elapsed", report.Elapsed))

	return report, srcErr
}
