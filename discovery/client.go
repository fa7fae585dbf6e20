package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// WellKnownPath is where provider metadata is served, relative to the issuer.
const WellKnownPath = "/.well-known/openid-configuration"

// Client fetches the provider metadata for a given issuer.
//
// It should be created via `NewClient` to ensure it is initialized correctly.
type Client struct {
	md *ProviderMetadata

	hc *http.Client
}

// ClientOpt is an option that can configure a client
type ClientOpt func(c *Client)

// WithHTTPClient will set a http.Client for the discovery request. If not set,
// http.DefaultClient will be used.
func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) {
		c.hc = hc
	}
}

// NewClient will initialize a Client, performing the discovery. The returned
// metadata's issuer must match the one requested.
func NewClient(ctx context.Context, issuer string, opts ...ClientOpt) (*Client, error) {
	c := &Client{
		md: &ProviderMetadata{},
		hc: http.DefaultClient,
	}

	for _, o := range opts {
		o(c)
	}

	issuer = strings.TrimSuffix(issuer, "/")
	mdURL := issuer + WellKnownPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mdURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", mdURL, err)
	}
	req.Header.Set("Accept", "application/json")

	mdr, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", mdURL, err)
	}
	defer mdr.Body.Close()

	if mdr.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: expected status %d, got: %d", mdURL, http.StatusOK, mdr.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(mdr.Body, 1<<20)).Decode(c.md); err != nil {
		return nil, fmt.Errorf("error decoding provider metadata response: %w", err)
	}

	if strings.TrimSuffix(c.md.Issuer, "/") != issuer {
		return nil, fmt.Errorf("provider metadata issuer %q does not match %q", c.md.Issuer, issuer)
	}

	return c, nil
}

// Metadata returns the ProviderMetadata that was retrieved when the client was
// instantiated
func (c *Client) Metadata() *ProviderMetadata {
	return c.md
}
