package pkceclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	ioauth2 "github.com/lstoll/pkceclient/internal/oauth2"
	"golang.org/x/sync/errgroup"
)

type logoutCfg struct {
	returnTo string
}

// LogoutOption customizes Logout.
type LogoutOption func(*logoutCfg)

// WithReturnTo sets where the end session endpoint should send the user
// agent afterwards. Defaults to the current location.
func WithReturnTo(u string) LogoutOption {
	return func(cfg *logoutCfg) {
		cfg.returnTo = u
	}
}

// Logout forgets every token the client holds. Held tokens are revoked at the
// revocation endpoint in the background if one is configured, failures there
// are only logged and never stop the local state being cleared. If an end
// session endpoint is configured the user agent is then sent to it.
func (c *Client) Logout(ctx context.Context, opts ...LogoutOption) error {
	lcfg := &logoutCfg{}
	for _, o := range opts {
		o(lcfg)
	}

	var revocations []*ioauth2.RevocationRequest
	if rt, err := c.loadRefreshToken(ctx); err != nil {
		c.logger.WarnContext(ctx, "reading refresh token to revoke", baseLogAttr, errAttr(err))
	} else if rt != "" {
		revocations = append(revocations, &ioauth2.RevocationRequest{
			Token:         rt,
			TokenTypeHint: ioauth2.TokenTypeHintRefreshToken,
			ClientID:      c.cfg.ClientID,
		})
	}
	// only resources whose token changes are notified
	held := make(map[string]bool, len(c.cfg.Resources))
	for _, r := range c.cfg.Resources {
		a, err := c.loadAccess(ctx, r.ID)
		if err != nil {
			c.logger.WarnContext(ctx, "reading access token to revoke", baseLogAttr, slog.String("resource", r.ID), errAttr(err))
			held[r.ID] = true
			continue
		}
		if a.token != "" {
			held[r.ID] = true
			revocations = append(revocations, &ioauth2.RevocationRequest{
				Token:         a.token,
				TokenTypeHint: ioauth2.TokenTypeHintAccessToken,
				ClientID:      c.cfg.ClientID,
			})
		}
	}

	if c.cfg.Endpoints.Revocation != "" && len(revocations) > 0 {
		bctx := context.WithoutCancel(ctx)
		c.bg.Go(func() {
			c.revoke(bctx, revocations)
		})
	}

	var errs []error
	for _, r := range c.cfg.Resources {
		if err := c.clearAccess(ctx, r.ID); err != nil {
			errs = append(errs, err)
		}
		if held[r.ID] {
			c.notify(ctx, r.ID)
		}
	}
	if err := c.clearClient(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clearing stored tokens: %w", err)
	}

	c.logger.InfoContext(ctx, "logged out", baseLogAttr)

	if c.cfg.Endpoints.EndSession == "" {
		return nil
	}

	u, err := url.Parse(c.cfg.Endpoints.EndSession)
	if err != nil {
		return fmt.Errorf("parsing end session endpoint: %w", err)
	}
	returnTo := lcfg.returnTo
	if returnTo == "" && c.location != nil {
		cur, err := c.location.CurrentURL(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "reading current location for logout return", baseLogAttr, errAttr(err))
		} else {
			returnTo = cur.String()
		}
	}
	if returnTo != "" {
		q := u.Query()
		q.Set("post_logout_redirect_uri", returnTo)
		u.RawQuery = q.Encode()
	}

	if err := c.navigator.Navigate(ctx, u.String()); err != nil {
		return fmt.Errorf("navigating to end session endpoint: %w", err)
	}
	return nil
}

// revoke sends every revocation concurrently. The endpoint's response body is
// ignored.
func (c *Client) revoke(ctx context.Context, reqs []*ioauth2.RevocationRequest) {
	var g errgroup.Group
	for _, rr := range reqs {
		g.Go(func() error {
			status, _, err := ioauth2.PostForm(ctx, c.hc, c.cfg.Endpoints.Revocation, rr.Form())
			if err != nil {
				return fmt.Errorf("revoking %s: %w", rr.TokenTypeHint, err)
			}
			if status != http.StatusOK {
				return fmt.Errorf("revoking %s: HTTP %d", rr.TokenTypeHint, status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.WarnContext(ctx, "token revocation failed", baseLogAttr, errAttr(err))
		return
	}
	c.logger.DebugContext(ctx, "revoked tokens", baseLogAttr, slog.Int("count", len(reqs)))
}
