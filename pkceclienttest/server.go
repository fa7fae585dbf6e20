package pkceclienttest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// Server is a Provider listening on a local httptest server. Its issuer is
// the server's URL.
type Server struct {
	*Provider
	*httptest.Server
}

// NewServer starts a provider, which is stopped when the test finishes.
func NewServer(t testing.TB, opts *Options) *Server {
	t.Helper()

	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Provider.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Server.Close)

	p, err := NewProvider(s.URL, opts)
	if err != nil {
		t.Fatalf("creating provider: %v", err)
	}
	s.Provider = p

	return s
}

// Authorize plays the user agent at the authorization endpoint. It requests
// authURL and returns where the server redirected to, which for an approval
// is the client's redirect URI carrying the code.
func (s *Server) Authorize(ctx context.Context, authURL string) (*url.URL, error) {
	hc := *s.Client()
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", authURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("authorization endpoint returned %d: %s", resp.StatusCode, b)
	}
	loc, err := resp.Location()
	if err != nil {
		return nil, fmt.Errorf("reading redirect: %w", err)
	}
	return loc, nil
}
