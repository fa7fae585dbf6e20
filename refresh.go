package pkceclient

import (
	"context"
	"log/slog"

	ioauth2 "github.com/lstoll/pkceclient/internal/oauth2"
)

// RefreshAccessToken uses the stored refresh token to get a new access token
// for the resource. The refresh token is replaced with the one returned. If
// the token endpoint refuses, the resource's access token is cleared and a
// *TokenExchangeError returned. There is a single attempt, and concurrent
// refreshes of the same resource are not merged.
func (c *Client) RefreshAccessToken(ctx context.Context, resourceID string) error {
	res, err := c.cfg.resource(resourceID)
	if err != nil {
		return err
	}

	rt, err := c.loadRefreshToken(ctx)
	if err != nil {
		return err
	}
	if rt == "" {
		return ErrMissingRefreshToken
	}

	resp, err := c.exchange(ctx, res, &ioauth2.TokenRequest{
		GrantType:    ioauth2.GrantTypeRefreshToken,
		RefreshToken: rt,
		ClientID:     c.cfg.ClientID,
		Scope:        res.ScopeString(),
	})
	if err != nil {
		return err
	}

	if err := c.storeRefreshToken(ctx, resp.RefreshToken); err != nil {
		return err
	}
	if err := c.storeAccess(ctx, res.ID, resp.AccessToken, c.expiresAt(resp)); err != nil {
		return err
	}
	c.notify(ctx, res.ID)

	c.logger.DebugContext(ctx, "refreshed access token", baseLogAttr, slog.String("resource", res.ID))
	return nil
}

type accessTokenCfg struct {
	noRefresh bool
}

// AccessTokenOption customizes GetAccessToken.
type AccessTokenOption func(*accessTokenCfg)

// WithoutRefresh returns the stored token even if it has expired.
func WithoutRefresh() AccessTokenOption {
	return func(cfg *accessTokenCfg) {
		cfg.noRefresh = true
	}
}

// GetAccessToken returns the resource's access token, refreshing it first if
// it has expired. An empty string with a nil error means the resource is not
// authenticated. Refresh failures are returned.
func (c *Client) GetAccessToken(ctx context.Context, resourceID string, opts ...AccessTokenOption) (string, error) {
	a, err := c.accessToken(ctx, resourceID, opts...)
	return a.token, err
}

func (c *Client) accessToken(ctx context.Context, resourceID string, opts ...AccessTokenOption) (storedAccess, error) {
	acfg := &accessTokenCfg{}
	for _, o := range opts {
		o(acfg)
	}

	if _, err := c.cfg.resource(resourceID); err != nil {
		return storedAccess{}, err
	}

	a, err := c.loadAccess(ctx, resourceID)
	if err != nil || a.token == "" {
		return storedAccess{}, err
	}

	if acfg.noRefresh || !c.expired(a) {
		return a, nil
	}

	if err := c.RefreshAccessToken(ctx, resourceID); err != nil {
		return storedAccess{}, err
	}
	return c.loadAccess(ctx, resourceID)
}
