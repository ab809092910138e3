package brute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ntlm-brute/internal/authn"
	"ntlm-brute/internal/creds"
)

// recorder is an Authenticator that answers from a fixed table and counts
// how often each pair was tried.
type recorder struct {
	mu      sync.Mutex
	calls   map[creds.Pair]int
	valid   map[creds.Pair]bool
	broken  map[creds.Pair]bool
	latency time.Duration
}

func newRecorder(valid ...creds.Pair) *recorder {
	r := &recorder{
		calls:  make(map[creds.Pair]int),
		valid:  make(map[creds.Pair]bool),
		broken: make(map[creds.Pair]bool),
	}
	for _, p := range valid {
		r.valid[p] = true
	}
	return r
}

func (r *recorder) Authenticate(_ context.Context, _ authn.Target, p creds.Pair) (authn.Outcome, error) {
	if r.latency > 0 {
		time.Sleep(r.latency)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[p]++
	switch {
	case r.broken[p]:
		return authn.TransportError, errors.New("connection reset by peer")
	case r.valid[p]:
		return authn.Success, nil
	default:
		return authn.Rejected, nil
	}
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func testConfig(poolSize int) Config {
	return Config{
		Target:         authn.Target{URL: "http://intranet.example.test/owa", Domain: "CORP"},
		PoolSize:       poolSize,
		DequeueTimeout: time.Second,
	}
}

func threeByThree() *creds.Source {
	return &creds.Source{
		Usernames: creds.Lines("alice", "bob", "carol"),
		Passwords: creds.Lines("pw1", "pw2", "pw3"),
	}
}

func sortPairs(pairs []creds.Pair) []creds.Pair {
	out := append([]creds.Pair(nil), pairs...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func TestRunFindsBobScenario(t *testing.T) {
	src := &creds.Source{
		Usernames: creds.Lines("alice", "bob"),
		Passwords: creds.Lines("pw1", "pw2"),
	}
	auth := newRecorder(creds.Pair{Username: "bob", Password: "pw2"})

	report, err := NewCoordinator(testConfig(2), src, auth).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []creds.Pair{{Username: "bob", Password: "pw2"}}, report.Found)
	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Workers, 2)
}

func TestRunSingleValidPairAcrossPoolSizes(t *testing.T) {
	for _, size := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("pool=%d", size), func(t *testing.T) {
			auth := newRecorder(creds.Pair{Username: "carol", Password: "pw2"})

			report, err := NewCoordinator(testConfig(size), threeByThree(), auth).Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, []creds.Pair{{Username: "carol", Password: "pw2"}}, report.Found)
			require.Len(t, report.Workers, size)
			require.Equal(t, auth.total(), report.Attempts)
		})
	}
}

func TestRunAllRejected(t *testing.T) {
	auth := newRecorder()

	report, err := NewCoordinator(testConfig(4), threeByThree(), auth).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Found)
	require.Equal(t, 9, report.Attempts)
	for _, w := range report.Workers {
		assert.Equal(t, TerminatedEmpty, w.State, "worker %d", w.ID)
	}

	// every pair is tried exactly once
	require.Len(t, auth.calls, 9)
	for p, n := range auth.calls {
		assert.Equal(t, 1, n, "pair %s", p)
	}
}

func TestRunTransportErrorStopsOnlyThatWorker(t *testing.T) {
	auth := newRecorder()
	auth.broken[creds.Pair{Username: "alice", Password: "pw1"}] = true
	auth.latency = 2 * time.Millisecond

	report, err := NewCoordinator(testConfig(2), threeByThree(), auth).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Found)

	var failed, drained int
	for _, w := range report.Workers {
		switch w.State {
		case TerminatedError:
			failed++
			require.Equal(t, 1, w.Attempts)
			require.Error(t, w.Err)
		case TerminatedEmpty:
			drained++
		}
	}
	require.Equal(t, 1, failed)
	require.Equal(t, 1, drained)

	// the failed pair is not retried and the rest of the queue is still tested
	require.Len(t, auth.calls, 9)
	require.Equal(t, 1, auth.calls[creds.Pair{Username: "alice", Password: "pw1"}])
}

func TestRunTransportErrorWithSingleWorker(t *testing.T) {
	auth := newRecorder()
	auth.broken[creds.Pair{Username: "alice", Password: "pw1"}] = true

	report, err := NewCoordinator(testConfig(1), threeByThree(), auth).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Found)
	require.Equal(t, 1, auth.total())
	require.Equal(t, TerminatedError, report.Workers[0].State)
}

func TestRunIsIdempotent(t *testing.T) {
	valid := []creds.Pair{{Username: "alice", Password: "pw3"}, {Username: "bob", Password: "pw1"}}

	first, err := NewCoordinator(testConfig(3), threeByThree(), newRecorder(valid...)).Run(context.Background())
	require.NoError(t, err)
	second, err := NewCoordinator(testConfig(3), threeByThree(), newRecorder(valid...)).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, sortPairs(first.Found), sortPairs(second.Found))
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestRunEmptyPasswordListIsInvalid(t *testing.T) {
	src := &creds.Source{Usernames: creds.Lines("alice"), Passwords: creds.Lines()}
	auth := newRecorder()

	report, err := NewCoordinator(testConfig(2), src, auth).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfiguration)
	require.Nil(t, report)
	require.Zero(t, auth.total())
}

func TestRunValidation(t *testing.T) {
	tests := map[string]Config{
		"empty endpoint": {PoolSize: 1},
		"relative url":   {Target: authn.Target{URL: "/owa"}, PoolSize: 1},
		"ftp scheme":     {Target: authn.Target{URL: "ftp://host/"}, PoolSize: 1},
		"zero pool":      {Target: authn.Target{URL: "http://host/"}},
		"negative sleep": {Target: authn.Target{URL: "http://host/"}, PoolSize: 1, Throttle: -time.Second},
		"negative rate":  {Target: authn.Target{URL: "http://host/"}, PoolSize: 1, RateLimit: -1},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewCoordinator(cfg, threeByThree(), newRecorder()).Run(context.Background())
			require.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}

	src := &creds.Source{Usernames: creds.Lines("", ""), Passwords: creds.Lines("pw")}
	_, err := NewCoordinator(testConfig(1), src, newRecorder()).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestRunUnreadableListFailsBeforeStart(t *testing.T) {
	src := &creds.Source{
		Usernames: func() (io.ReadCloser, error) { return nil, errors.New("permission denied") },
		Passwords: creds.Lines("pw"),
	}
	auth := newRecorder()

	report, err := NewCoordinator(testConfig(2), src, auth).Run(context.Background())
	var readErr *creds.SourceReadError
	require.ErrorAs(t, err, &readErr)
	require.Nil(t, report)
	require.Zero(t, auth.total())
}

func TestRunSourceFailureMidEnumeration(t *testing.T) {
	var opened atomic.Int32
	passwords := creds.Lines("pw1", "pw2", "pw3")
	src := &creds.Source{
		Usernames: creds.Lines("alice", "bob"),
		Passwords: func() (io.ReadCloser, error) {
			// first open is the pre-flight count, second serves alice
			if opened.Add(1) >= 3 {
				return nil, errors.New("stale file handle")
			}
			return passwords()
		},
	}
	auth := newRecorder(creds.Pair{Username: "alice", Password: "pw2"})

	report, err := NewCoordinator(testConfig(2), src, auth).Run(context.Background())
	var readErr *creds.SourceReadError
	require.ErrorAs(t, err, &readErr)
	require.NotNil(t, report)
	require.Equal(t, []creds.Pair{{Username: "alice", Password: "pw2"}}, report.Found)
	for p := range auth.calls {
		require.Equal(t, "alice", p.Username)
	}
}

func TestRunStopOnSuccess(t *testing.T) {
	src := &creds.Source{
		Usernames: creds.Lines("a", "b", "c", "d", "e", "f", "g", "h", "i", "j"),
		Passwords: creds.Lines("1", "2", "3", "4", "5", "6", "7", "8", "9", "10"),
	}
	auth := newRecorder(creds.Pair{Username: "a", Password: "1"})
	auth.latency = 5 * time.Millisecond

	cfg := testConfig(2)
	cfg.StopOnSuccess = true
	report, err := NewCoordinator(cfg, src, auth).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []creds.Pair{{Username: "a", Password: "1"}}, report.Found)
	require.Less(t, report.Attempts, 100)

	states := map[State]int{}
	for _, w := range report.Workers {
		states[w.State]++
	}
	require.Equal(t, 1, states[TerminatedSuccess])
	require.Equal(t, 1, states[TerminatedCanceled])
}

func TestRunWithoutStopOnSuccessKeepsTesting(t *testing.T) {
	auth := newRecorder(creds.Pair{Username: "alice", Password: "pw1"})

	report, err := NewCoordinator(testConfig(1), threeByThree(), auth).Run(context.Background())
	require.NoError(t, err)
	// the only worker stops at its own success, nothing else is tried
	require.Equal(t, 1, report.Attempts)
	require.Equal(t, TerminatedSuccess, report.Workers[0].State)

	report, err = NewCoordinator(testConfig(2), threeByThree(), newRecorder(creds.Pair{Username: "alice", Password: "pw1"})).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 9, report.Attempts)
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	auth := newRecorder()

	report, err := NewCoordinator(testConfig(2), threeByThree(), auth).Run(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Found)
	for _, w := range report.Workers {
		require.Equal(t, TerminatedCanceled, w.State)
	}
	require.Zero(t, auth.total())
}

func TestRunThrottleSleepsAfterEachAttempt(t *testing.T) {
	const latency, throttle = 30 * time.Millisecond, 20 * time.Millisecond
	src := &creds.Source{Usernames: creds.Lines("alice"), Passwords: creds.Lines("1", "2", "3")}
	cfg := testConfig(1)
	cfg.Throttle = throttle
	auth := newRecorder()
	auth.latency = latency

	report, err := NewCoordinator(cfg, src, auth).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Attempts)
	// The pause starts once the attempt returns, so a slow server does not
	// eat into it.
	require.GreaterOrEqual(t, report.Elapsed, 3*latency+2*throttle)
}

func TestRunCancelDuringThrottle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testConfig(1)
	cfg.Throttle = time.Hour
	hook := func(int, creds.Pair, authn.Outcome, error) { cancel() }

	report, err := NewCoordinator(cfg, threeByThree(), newRecorder(), WithAttemptHook(hook)).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Attempts)
	require.Equal(t, TerminatedCanceled, report.Workers[0].State)
}

func TestRunRateLimitIsSharedByThePool(t *testing.T) {
	src := &creds.Source{Usernames: creds.Lines("alice", "bob"), Passwords: creds.Lines("1", "2", "3")}
	cfg := testConfig(4)
	cfg.RateLimit = 50

	report, err := NewCoordinator(cfg, src, newRecorder()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, report.Attempts)
	// Six attempts at 50/s with a burst of one need five 20ms intervals,
	// however many workers share them.
	require.GreaterOrEqual(t, report.Elapsed, 100*time.Millisecond)
}

func TestRunCallsAttemptHook(t *testing.T) {
	var mu sync.Mutex
	outcomes := map[authn.Outcome]int{}
	hook := func(_ int, _ creds.Pair, o authn.Outcome, _ error) {
		mu.Lock()
		outcomes[o]++
		mu.Unlock()
	}

	auth := newRecorder(creds.Pair{Username: "bob", Password: "pw3"})
	_, err := NewCoordinator(testConfig(2), threeByThree(), auth, WithAttemptHook(hook)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, outcomes[authn.Success])
	require.Equal(t, auth.total()-1, outcomes[authn.Rejected])
}

func TestStateString(t *testing.T) {
	require.Equal(t, "queue drained", TerminatedEmpty.String())
	require.Equal(t, "transport error", TerminatedError.String())
	require.Equal(t, "unknown", State(99).String())
}
