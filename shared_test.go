package pkceclient

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lstoll/pkceclient/pkceclienttest"
	"github.com/lstoll/pkceclient/storage"
)

// contains helpers used by multiple tests

const (
	testClientID    = "test-client"
	testRedirectURI = "http://localhost:8080/callback"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// harness is a client wired to a test provider, with a controllable clock and
// user agent.
type harness struct {
	t     *testing.T
	srv   *pkceclienttest.Server
	store *storage.Memory
	c     *Client

	mu      sync.Mutex
	navs    []string
	current *url.URL
	now     time.Time
}

func testConfig(srv *pkceclienttest.Server, resources ...Resource) Config {
	md := srv.Metadata()
	return Config{
		ClientID: testClientID,
		Endpoints: Endpoints{
			Authorization: md.AuthorizationEndpoint,
			Token:         md.TokenEndpoint,
			Revocation:    md.RevocationEndpoint,
			EndSession:    md.EndSessionEndpoint,
			Introspection: md.IntrospectionEndpoint,
			UserInfo:      md.UserinfoEndpoint,
		},
		Resources: resources,
	}
}

func defaultResources() []Resource {
	return []Resource{
		{ID: "https://api.example.com/", Scopes: []string{"read"}, UserInfo: true},
		{ID: "billing", Scopes: []string{"invoices", "payments"}},
	}
}

func newHarness(t *testing.T, mutate func(*Config), opts ...ClientOpt) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		srv:   pkceclienttest.NewServer(t, &pkceclienttest.Options{UserInfo: map[string]any{"name": "A User"}}),
		store: storage.NewMemory(),
		now:   testEpoch,
	}

	cfg := testConfig(h.srv, defaultResources()...)
	if mutate != nil {
		mutate(&cfg)
	}

	opts = append([]ClientOpt{
		WithHTTPClient(h.srv.Client()),
		WithClock(h.clock),
		WithNavigator(NavigatorFunc(func(_ context.Context, u string) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.navs = append(h.navs, u)
			return nil
		})),
		WithLocation(LocationFunc(func(context.Context) (*url.URL, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.current == nil {
				return nil, errors.New("user agent has not navigated")
			}
			u := *h.current
			return &u, nil
		})),
	}, opts...)

	c, err := New(cfg, h.store, opts...)
	if err != nil {
		t.Fatal(err)
	}
	h.c = c
	t.Cleanup(c.Wait)

	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) setCurrent(u *url.URL) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = u
}

func (h *harness) lastNav() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.navs) == 0 {
		h.t.Fatal("no navigation happened")
	}
	return h.navs[len(h.navs)-1]
}

// authorize starts a login and has the provider approve it, leaving the user
// agent at the callback.
func (h *harness) authorize(ctx context.Context) {
	h.t.Helper()

	if err := h.c.LoginWithRedirect(ctx, testRedirectURI); err != nil {
		h.t.Fatalf("starting login: %v", err)
	}
	cb, err := h.srv.Authorize(ctx, h.lastNav())
	if err != nil {
		h.t.Fatalf("authorizing: %v", err)
	}
	h.setCurrent(cb)
}

// login runs a complete login, including the background fetch of secondary
// resource tokens.
func (h *harness) login(ctx context.Context) {
	h.t.Helper()

	h.authorize(ctx)
	if err := h.c.HandleRedirectCallback(ctx, testRedirectURI); err != nil {
		h.t.Fatalf("handling callback: %v", err)
	}
	h.c.Wait()
}

func (h *harness) stored(key string) (string, bool) {
	h.t.Helper()
	v, ok, err := h.store.Get(context.Background(), key)
	if err != nil {
		h.t.Fatal(err)
	}
	return v, ok
}
