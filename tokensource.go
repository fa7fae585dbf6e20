package pkceclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = (*resourceTokenSource)(nil)

type resourceTokenSource struct {
	ctx      context.Context
	c        *Client
	resource string
}

// TokenSource returns an oauth2.TokenSource for the resource. Each Token call
// goes through GetAccessToken, so expired tokens are refreshed and the
// rotated refresh token persisted.
func (c *Client) TokenSource(ctx context.Context, resourceID string) oauth2.TokenSource {
	return &resourceTokenSource{ctx: ctx, c: c, resource: resourceID}
}

func (r *resourceTokenSource) Token() (*oauth2.Token, error) {
	a, err := r.c.accessToken(r.ctx, r.resource)
	if err != nil {
		return nil, err
	}
	if a.token == "" {
		return nil, fmt.Errorf("%w %s", ErrNoAccessToken, r.resource)
	}
	t := &oauth2.Token{
		AccessToken: a.token,
		TokenType:   "Bearer",
	}
	if a.hasExpiry {
		t.Expiry = time.UnixMilli(a.expiresAt)
	}
	return t, nil
}

// HTTPClient returns a client that authenticates requests with the resource's
// bearer token. It uses the client's HTTP client as a base.
func (c *Client) HTTPClient(ctx context.Context, resourceID string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.hc)
	return oauth2.NewClient(ctx, c.TokenSource(ctx, resourceID))
}
