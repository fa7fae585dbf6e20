package pkceclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ioauth2 "github.com/lstoll/pkceclient/internal/oauth2"
	"golang.org/x/oauth2"
)

type loginCfg struct {
	state  string
	prompt string
}

// LoginOption customizes a single authorization request.
type LoginOption func(*loginCfg)

// WithState sets the state parameter, returned unchanged in the callback.
func WithState(state string) LoginOption {
	return func(cfg *loginCfg) {
		cfg.state = state
	}
}

// WithPrompt sets the prompt parameter, e.g. "login" or "consent".
func WithPrompt(prompt string) LoginOption {
	return func(cfg *loginCfg) {
		cfg.prompt = prompt
	}
}

// LoginWithRedirect starts a login. A new code verifier is stored, replacing
// any in-flight login, and the user agent is sent to the authorization
// endpoint asking for every configured resource's scopes. The flow continues
// when the user agent arrives back at redirectURI, with
// HandleRedirectCallback.
func (c *Client) LoginWithRedirect(ctx context.Context, redirectURI string, opts ...LoginOption) error {
	lcfg := &loginCfg{}
	for _, o := range opts {
		o(lcfg)
	}

	verifier := GenerateVerifier(c.random)
	if err := c.storeVerifier(ctx, verifier); err != nil {
		return err
	}

	o2cfg := oauth2.Config{
		ClientID: c.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.Endpoints.Authorization,
			TokenURL: c.cfg.Endpoints.Token,
		},
		RedirectURL: redirectURI,
		Scopes:      c.cfg.scopes(),
	}

	aopts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", CodeChallenge(c.newHash, verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", ioauth2.CodeChallengeMethodS256),
		oauth2.SetAuthURLParam("nonce", c.cfg.Nonce),
	}
	if lcfg.prompt != "" {
		aopts = append(aopts, oauth2.SetAuthURLParam("prompt", lcfg.prompt))
	}

	authURL := o2cfg.AuthCodeURL(lcfg.state, aopts...)

	c.logger.DebugContext(ctx, "redirecting to authorization endpoint", baseLogAttr,
		slog.String("endpoint", c.cfg.Endpoints.Authorization), slog.String("redirect_uri", redirectURI))

	if err := c.navigator.Navigate(ctx, authURL); err != nil {
		return fmt.Errorf("navigating to authorization endpoint: %w", err)
	}
	return nil
}

// HandleRedirectCallback completes a login. It reads the authorization code
// from the current Location, and redeems it with the stored verifier for the
// first configured resource's token and the shared refresh token. The stored
// verifier is discarded whatever the outcome. Tokens for the remaining
// resources are then fetched in the background; their outcome is only visible
// to subscribers, or after Wait.
//
// redirectURI must be the one the login was started with.
func (c *Client) HandleRedirectCallback(ctx context.Context, redirectURI string) error {
	// the verifier is single use whatever the outcome
	verifier, err := c.takeVerifier(ctx)
	if err != nil {
		return err
	}

	if c.location == nil {
		return &NotConfiguredError{What: "location"}
	}
	cur, err := c.location.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("reading current location: %w", err)
	}
	q := cur.Query()
	code := q.Get("code")

	if code == "" {
		if e := q.Get("error"); e != "" {
			return &CallbackError{
				ErrorCode:   e,
				Description: q.Get("error_description"),
				ErrorURI:    q.Get("error_uri"),
			}
		}
		return ErrMissingCode
	}
	if verifier == "" {
		return ErrMissingVerifier
	}

	first := c.cfg.Resources[0]
	resp, err := c.exchange(ctx, first, &ioauth2.TokenRequest{
		GrantType:    ioauth2.GrantTypeAuthorizationCode,
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		ClientID:     c.cfg.ClientID,
		Scope:        first.ScopeString(),
	})
	if err != nil {
		return err
	}

	if err := c.storeRefreshToken(ctx, resp.RefreshToken); err != nil {
		return err
	}
	if err := c.storeAccess(ctx, first.ID, resp.AccessToken, c.expiresAt(resp)); err != nil {
		return err
	}
	c.notify(ctx, first.ID)

	c.logger.InfoContext(ctx, "login complete", baseLogAttr, slog.String("resource", first.ID))

	if rest := c.cfg.Resources[1:]; len(rest) > 0 {
		bctx := context.WithoutCancel(ctx)
		c.bg.Go(func() {
			for _, r := range rest {
				if err := c.RefreshAccessToken(bctx, r.ID); err != nil {
					c.logger.WarnContext(bctx, "fetching token for resource after login", baseLogAttr, slog.String("resource", r.ID), errAttr(err))
				}
			}
		})
	}

	return nil
}

// exchange posts a grant to the token endpoint. Any failure is returned as a
// *TokenExchangeError, after the resource's access token has been cleared.
func (c *Client) exchange(ctx context.Context, res Resource, tr *ioauth2.TokenRequest) (*ioauth2.TokenResponse, error) {
	status, body, err := ioauth2.PostForm(ctx, c.hc, c.cfg.Endpoints.Token, tr.Form())
	if err == nil {
		var resp *ioauth2.TokenResponse
		resp, err = ioauth2.ParseTokenResponse(status, body)
		if err == nil {
			return resp, nil
		}
	}

	texErr := &TokenExchangeError{
		Resource:   res.ID,
		GrantType:  string(tr.GrantType),
		StatusCode: status,
		Cause:      err,
	}
	var terr *ioauth2.TokenError
	if errors.As(err, &terr) && terr.ErrorCode != "" {
		texErr.ErrorCode = string(terr.ErrorCode)
		texErr.Description = terr.Description
	}

	c.logger.WarnContext(ctx, "token exchange failed", baseLogAttr,
		slog.String("resource", res.ID), slog.String("grant_type", string(tr.GrantType)), slog.Int("status", status), errAttr(err))

	if cerr := c.clearAccess(ctx, res.ID); cerr != nil {
		c.logger.WarnContext(ctx, "clearing access token after failed exchange", baseLogAttr, slog.String("resource", res.ID), errAttr(cerr))
	}
	c.notify(ctx, res.ID)

	return nil, texErr
}

func (c *Client) expiresAt(resp *ioauth2.TokenResponse) int64 {
	return c.now().UnixMilli() + int64(resp.ExpiresIn/time.Millisecond)
}
