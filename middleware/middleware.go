// Package middleware protects HTTP handlers with a PKCE login, keeping each
// user's tokens in their server side session.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/lstoll/pkceclient"
	"github.com/lstoll/pkceclient/storage"
	"golang.org/x/oauth2"
)

type tokenContextKey struct{}

var baseLogAttr = slog.String("component", "pkceclient-middleware")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// Handler wraps another http.Handler, requiring the user to have an access
// token for a resource.
type Handler struct {
	// Issuer is the URL of the authorization server. Endpoints not set in
	// Config are discovered from it.
	Issuer string
	// Config describes this client and the resources it accesses.
	Config pkceclient.Config
	// Resource is the resource a token is required for. Defaults to the
	// first configured resource.
	Resource string
	// BaseURL is the base URL for this service. If it is not safe to redirect
	// the user to their original destination, they will be redirected to this
	// URL. It is also where users return to after logout.
	BaseURL string
	// RedirectURL is the callback URL registered with the authorization
	// server. Requests to its path are handled by the wrapper.
	RedirectURL string

	// SessionStore persists each user's tokens and in-flight login state.
	// Tokens are written to the session, so it must keep values server side,
	// e.g. sessions.FilesystemStore. Required.
	SessionStore sessions.Store
	// SessionName is a name used for the session, If not set, a default is
	// used.
	SessionName string

	// HTTPClient is used to talk to the authorization server. Defaults to
	// http.DefaultClient
	HTTPClient *http.Client
	Logger     *slog.Logger

	cfg   *pkceclient.Config
	cfgMu sync.Mutex
}

// Wrap returns an http.Handler that wraps the given http.Handler and
// requires a login.
func (h *Handler) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.session(r)
		if err != nil {
			h.logger().ErrorContext(r.Context(), "Failed to get session", baseLogAttr, errAttr(err))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		nav := &captureNavigator{}
		c, err := h.client(r, session, nav)
		if err != nil {
			h.logger().ErrorContext(r.Context(), "Failed to create client", baseLogAttr, errAttr(err))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		if h.isCallback(r) {
			h.handleCallback(w, r, session, c)
			return
		}

		// Check for a user that's already authenticated. This may refresh,
		// so the session is saved either way.
		tok, err := c.GetAccessToken(r.Context(), h.resource())
		var texErr *pkceclient.TokenExchangeError
		if err != nil && !errors.As(err, &texErr) {
			h.logger().ErrorContext(r.Context(), "Failed to get access token", baseLogAttr, errAttr(err))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		if tok != "" {
			if err := saveSession(w, r, session); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), tokenContextKey{}, tok))
			next.ServeHTTP(w, r)
			return
		}

		// Not authenticated. Kick off an auth flow.
		state := uuid.NewString()
		session.Values[sessionKeyState] = state
		session.Values[sessionKeyReturnTo] = ""
		if r.Method == http.MethodGet {
			session.Values[sessionKeyReturnTo] = r.URL.RequestURI()
		}

		if err := c.LoginWithRedirect(r.Context(), h.RedirectURL, pkceclient.WithState(state)); err != nil {
			h.logger().ErrorContext(r.Context(), "Failed to start login", baseLogAttr, errAttr(err))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		if err := saveSession(w, r, session); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, nav.url, http.StatusSeeOther)
	})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request, session *sessions.Session, c *pkceclient.Client) {
	ctx := r.Context()

	want := sessionString(session, sessionKeyState)
	if want == "" || r.URL.Query().Get("state") != want {
		http.Error(w, "state did not match", http.StatusBadRequest)
		return
	}

	err := c.HandleRedirectCallback(ctx, h.RedirectURL)
	// secondary resources are written to the session in the background
	c.Wait()

	var cerr *pkceclient.CallbackError
	switch {
	case errors.As(err, &cerr):
		http.Error(w, cerr.Error(), http.StatusForbidden)
		return
	case err != nil:
		h.logger().ErrorContext(ctx, "Failed to complete login", baseLogAttr, errAttr(err))
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	returnTo := sessionString(session, sessionKeyReturnTo)
	if returnTo == "" {
		returnTo = h.BaseURL
	}
	delete(session.Values, sessionKeyState)
	delete(session.Values, sessionKeyReturnTo)

	if err := saveSession(w, r, session); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, returnTo, http.StatusSeeOther)
}

// Logout returns a handler that logs the user out, then sends them to the
// authorization server's end session endpoint if it has one, or BaseURL.
func (h *Handler) Logout() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.session(r)
		if err != nil {
			h.logger().ErrorContext(r.Context(), "Failed to get session", baseLogAttr, errAttr(err))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		nav := &captureNavigator{}
		c, err := h.client(r, session, nav)
		if err != nil {
			h.logger().ErrorContext(r.Context(), "Failed to create client", baseLogAttr, errAttr(err))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		if err := c.Logout(r.Context(), pkceclient.WithReturnTo(h.BaseURL)); err != nil {
			h.logger().ErrorContext(r.Context(), "Failed to log out", baseLogAttr, errAttr(err))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		// revocation is complete before the user is redirected
		c.Wait()

		if session.Options == nil {
			session.Options = &sessions.Options{}
		}
		session.Options.MaxAge = -1
		if err := saveSession(w, r, session); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		dest := nav.url
		if dest == "" {
			dest = h.BaseURL
		}
		http.Redirect(w, r, dest, http.StatusSeeOther)
	})
}

// client creates a client for this request, storing tokens in the session.
func (h *Handler) client(r *http.Request, session *sessions.Session, nav *captureNavigator) (*pkceclient.Client, error) {
	cfg, err := h.config(r.Context())
	if err != nil {
		return nil, err
	}

	current := *r.URL
	return pkceclient.New(cfg, storage.NewSession(session),
		pkceclient.WithHTTPClient(h.httpClient()),
		pkceclient.WithLogger(h.logger()),
		pkceclient.WithNavigator(nav),
		pkceclient.WithLocation(pkceclient.StaticLocation(&current)),
	)
}

// config resolves the client config, discovering endpoints on first use.
func (h *Handler) config(ctx context.Context) (pkceclient.Config, error) {
	h.cfgMu.Lock()
	defer h.cfgMu.Unlock()
	if h.cfg != nil {
		return *h.cfg, nil
	}

	cfg := h.Config
	if h.Issuer != "" {
		dc, err := pkceclient.Discover(ctx, h.Issuer, h.Config, storage.NewMemory(), pkceclient.WithHTTPClient(h.httpClient()))
		if err != nil {
			return pkceclient.Config{}, fmt.Errorf("discovering issuer %s: %w", h.Issuer, err)
		}
		cfg = dc.Config()
	} else if err := cfg.Validate(); err != nil {
		return pkceclient.Config{}, err
	}

	h.cfg = &cfg
	return cfg, nil
}

func (h *Handler) isCallback(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	u, err := url.Parse(h.RedirectURL)
	if err != nil {
		return false
	}
	return r.URL.Path == u.Path
}

func (h *Handler) resource() string {
	if h.Resource != "" {
		return h.Resource
	}
	if len(h.Config.Resources) > 0 {
		return h.Config.Resources[0].ID
	}
	return ""
}

func (h *Handler) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// captureNavigator records where the client wanted to send the user agent,
// so it can be sent as a redirect.
type captureNavigator struct {
	url string
}

func (c *captureNavigator) Navigate(_ context.Context, u string) error {
	c.url = u
	return nil
}

// AccessTokenFromContext returns the access token for the request. The
// request must have been wrapped with the middleware for this to be
// initialized.
func AccessTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenContextKey{}).(string)
	return tok
}

// TokenSourceFromContext returns a token source for the request's access
// token. The token is not refreshed, the middleware has already done that if
// needed.
func TokenSourceFromContext(ctx context.Context) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: AccessTokenFromContext(ctx),
		TokenType:   "Bearer",
	})
}
