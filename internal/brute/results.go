package brute

import (
	"sync"

	"ntlm-brute/internal/creds"
)

// ResultSet collects the pairs that authenticated. Append is safe for
// concurrent use; DrainAll must only run after every writer is done.
type ResultSet struct {
	mu    sync.Mutex
	pairs []creds.Pair
}

func (r *ResultSet) Append(p creds.Pair) {
	r.mu.Lock()
	r.pairs = append(r.pairs, p)
	r.mu.Unlock()
}

// DrainAll returns the collected pairs in append order and empties the set.
func (r *ResultSet) DrainAll() []creds.Pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pairs
	r.pairs = nil
	return out
}

func (r *ResultSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}
