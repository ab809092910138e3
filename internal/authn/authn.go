package authn

import (
	"context"

	"ntlm-brute/internal/creds"
)

// Outcome is the result of one authentication attempt.
type Outcome int

const (
	Success Outcome = iota
	Rejected
	TransportError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case TransportError:
		return "transport error"
	default:
		return "unknown"
	}
}

// Target is the endpoint under test and the realm usernames are qualified with.
type Target struct {
	URL    string
	Domain string
}

// Principal qualifies username with the target domain, DOMAIN\user style.
func (t Target) Principal(username string) string {
	if t.Domain == "" {
		return username
	}
	return t.Domain + `\` + username
}

// Authenticator performs a single attempt against a target. The returned
// error is only non-nil together with TransportError and describes it.
type Authenticator interface {
	Authenticate(ctx context.Context, target Target, pair creds.Pair) (Outcome, error)
}

// Func adapts a plain function to an Authenticator.
type Func func(ctx context.Context, target Target, pair creds.Pair) (Outcome, error)

func (f Func) Authenticate(ctx context.Context, target Target, pair creds.Pair) (Outcome, error) {
	return f(ctx, target, pair)
}
