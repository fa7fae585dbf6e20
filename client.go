package pkceclient

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/lstoll/pkceclient/discovery"
	"github.com/lstoll/pkceclient/storage"
)

var baseLogAttr = slog.String("component", "pkceclient")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// Client runs the token lifecycle for one OAuth2 client against one
// authorization server. It is safe for concurrent use.
type Client struct {
	cfg   Config
	store storage.KeyValueStore

	hc        *http.Client
	logger    *slog.Logger
	navigator Navigator
	location  Location
	now       func() time.Time
	random    io.Reader
	newHash   func() hash.Hash

	// mu serialises writes to the store, so an access token and its expiry
	// are always seen together.
	mu sync.Mutex

	subsMu sync.Mutex
	subs   map[string][]*subscription

	userInfo userInfoCache

	// bg tracks work that outlives the call that started it.
	bg sync.WaitGroup
}

// ClientOpt can be used to customize the client
// nolint:golint
type ClientOpt func(*Client)

// WithHTTPClient sets the client used for all calls to the authorization
// server. Defaults to http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) {
		c.hc = hc
	}
}

// WithLogger sets where the client logs. By default nothing is logged. Token
// values are never logged.
func WithLogger(l *slog.Logger) ClientOpt {
	return func(c *Client) {
		c.logger = l
	}
}

// WithNavigator sets how the client moves the user agent to the
// authorization and end session endpoints. Defaults to BrowserNavigator.
func WithNavigator(n Navigator) ClientOpt {
	return func(c *Client) {
		c.navigator = n
	}
}

// WithLocation sets where the client reads the current URL from. It is
// required for HandleRedirectCallback.
func WithLocation(l Location) ClientOpt {
	return func(c *Client) {
		c.location = l
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) ClientOpt {
	return func(c *Client) {
		c.now = now
	}
}

// WithRandom overrides the randomness used for PKCE verifiers. Defaults to
// crypto/rand.
func WithRandom(r io.Reader) ClientOpt {
	return func(c *Client) {
		c.random = r
	}
}

// WithHasher overrides the hash used for PKCE challenges. It must produce
// SHA-256 for the server to accept the challenge.
func WithHasher(newHash func() hash.Hash) ClientOpt {
	return func(c *Client) {
		c.newHash = newHash
	}
}

// New creates a client for cfg, persisting its state in store.
func New(cfg Config, store storage.KeyValueStore, opts ...ClientOpt) (*Client, error) {
	c := newClient(store, opts)
	return c.init(cfg)
}

// Discover creates a client whose endpoints are discovered from the issuer's
// provider metadata. Endpoints already set in cfg take precedence over
// discovered ones.
func Discover(ctx context.Context, issuer string, cfg Config, store storage.KeyValueStore, opts ...ClientOpt) (*Client, error) {
	c := newClient(store, opts)

	dc, err := discovery.NewClient(ctx, issuer, discovery.WithHTTPClient(c.hc))
	if err != nil {
		return nil, fmt.Errorf("creating discovery client: %w", err)
	}
	md := dc.Metadata()

	if len(md.CodeChallengeMethodsSupported) > 0 && !slices.Contains(md.CodeChallengeMethodsSupported, "S256") {
		c.logger.WarnContext(ctx, "issuer does not advertise S256 PKCE support", baseLogAttr, slog.String("issuer", issuer))
	}

	ep := &cfg.Endpoints
	setIfEmpty(&ep.Authorization, md.AuthorizationEndpoint)
	setIfEmpty(&ep.Token, md.TokenEndpoint)
	setIfEmpty(&ep.Revocation, md.RevocationEndpoint)
	setIfEmpty(&ep.EndSession, md.EndSessionEndpoint)
	setIfEmpty(&ep.Introspection, md.IntrospectionEndpoint)
	setIfEmpty(&ep.UserInfo, md.UserinfoEndpoint)

	return c.init(cfg)
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func newClient(store storage.KeyValueStore, opts []ClientOpt) *Client {
	c := &Client{
		store:     store,
		hc:        http.DefaultClient,
		navigator: BrowserNavigator{},
		now:       time.Now,
		random:    rand.Reader,
		newHash:   sha256.New,
		subs:      make(map[string][]*subscription),
	}

	for _, o := range opts {
		o(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	return c
}

func (c *Client) init(cfg Config) (*Client, error) {
	if c.store == nil {
		return nil, fmt.Errorf("a store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c.cfg = cfg.clone()
	if c.cfg.Nonce == "" {
		c.cfg.Nonce = DefaultNonce
	}
	return c, nil
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config {
	return c.cfg.clone()
}

// Wait blocks until background work started by the client has finished: the
// refreshes of secondary resources after a login, and token revocations on
// logout. Hosts that exit or persist their store after a call should Wait
// first.
func (c *Client) Wait() {
	c.bg.Wait()
}
