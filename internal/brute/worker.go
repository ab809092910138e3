package brute

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ntlm-brute/internal/authn"
	"ntlm-brute/internal/creds"
)

// State is where a worker is in its lifecycle.
type State int

const (
	Running State = iota
	TerminatedEmpty
	TerminatedSuccess
	TerminatedError
	TerminatedCanceled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case TerminatedEmpty:
		return "queue drained"
	case TerminatedSuccess:
		return "found credentials"
	case TerminatedError:
		return "transport error"
	case TerminatedCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// WorkerStats describes how a worker ended.
type WorkerStats struct {
	ID       int
	State    State
	Attempts int
	// Err is the transport error that stopped the worker, if any.
	Err error
}

// AttemptHook observes every authentication attempt.
type AttemptHook func(workerID int, pair creds.Pair, outcome authn.Outcome, err error)

type worker struct {
	id      int
	target  authn.Target
	auth    authn.Authenticator
	queue   *Queue
	results *ResultSet
	// limiter is shared by the whole pool and may be nil.
	limiter  *rate.Limiter
	throttle time.Duration
	timeout  time.Duration
	onFound  func()
	hook     AttemptHook
	logger   *zap.Logger
}

// pause sleeps for the throttle interval after an attempt. It reports false
// if ctx was canceled first.
func (w *worker) pause(ctx context.Context) bool {
	if w.throttle <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.throttle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// run tests pairs until the queue drains, a pair authenticates, the
// transport fails or ctx is canceled. A dequeued pair is never put back.
func (w *worker) run(ctx context.Context) WorkerStats {
	stats := WorkerStats{ID: w.id, State: Running}
	w.logger.Debug("worker started")

	for {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				stats.State = TerminatedCanceled
				break
			}
		}
		if ctx.Err() != nil {
			stats.State = TerminatedCanceled
			break
		}

		pair, ok := w.queue.Dequeue(ctx, w.timeout)
		if !ok {
			if ctx.Err() != nil {
				stats.State = TerminatedCanceled
			} else {
				w.logger.Debug("credential queue is empty, quitting")
				stats.State = TerminatedEmpty
			}
			break
		}

		stats.Attempts++
		outcome, err := w.auth.Authenticate(ctx, w.target, pair)
		if w.hook != nil {
			w.hook(w.id, pair, outcome, err)
		}

		log := w.logger.With(zap.String("username", pair.Username))
		switch outcome {
		case authn.Success:
			log.Info("valid credentials", zap.String("password", pair.Password))
			w.results.Append(pair)
			if w.onFound != nil {
				w.onFound()
			}
			stats.State = TerminatedSuccess
			return stats
		case authn.Rejected:
			log.Debug("credentials rejected", zap.String("password", pair.Password))
			if !w.pause(ctx) {
				stats.State = TerminatedCanceled
				return stats
			}
		default:
			if ctx.Err() != nil {
				stats.State = TerminatedCanceled
				return stats
			}
			log.Warn("authentication attempt failed", zap.Error(err))
			stats.State = TerminatedError
			stats.Err = err
			return stats
		}
	}

	return stats
}
