package authn

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Azure/go-ntlmssp"

	"ntlm-brute/internal/creds"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// NTLM authenticates against an HTTP endpoint protected by NTLM, Negotiate
// or Basic authentication. Only a 200 response counts as a valid login.
type NTLM struct {
	Timeout  time.Duration
	Insecure bool
}

func NewNTLM(timeout time.Duration, insecure bool) *NTLM {
	return &NTLM{Timeout: timeout, Insecure: insecure}
}

// newClient builds a client owned by a single attempt. The NTLM handshake is
// bound to one connection, so keep-alives stay on and the transport is
// discarded once the attempt finishes.
func (n *NTLM) newClient() (*http.Client, *http.Transport) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: n.Insecure},
		MaxIdleConns:    1,
	}
	client := &http.Client{
		Timeout:   n.Timeout,
		Transport: ntlmssp.Negotiator{RoundTripper: transport},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return client, transport
}

func (n *NTLM) Authenticate(ctx context.Context, target Target, pair creds.Pair) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return TransportError, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.SetBasicAuth(target.Principal(pair.Username), pair.Password)

	client, transport := n.newClient()
	defer transport.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return TransportError, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return TransportError, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return Success, nil
	}
	return Rejected, nil
}
