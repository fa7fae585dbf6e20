// Package pkceclienttest provides an in-memory OAuth2 authorization server
// for testing PKCE public clients. Logins are approved without user
// interaction, and failures can be injected per endpoint.
package pkceclienttest

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lstoll/pkceclient/discovery"
	"github.com/lstoll/pkceclient/internal/oauth2"
	"github.com/lstoll/pkceclient/staticclients"
	"golang.org/x/crypto/bcrypt"
)

// Endpoint names one of the provider's HTTP endpoints.
type Endpoint string

const (
	EndpointAuthorize     Endpoint = "authorize"
	EndpointToken         Endpoint = "token"
	EndpointRevoke        Endpoint = "revoke"
	EndpointIntrospect    Endpoint = "introspect"
	EndpointUserInfo      Endpoint = "userinfo"
	EndpointLogout        Endpoint = "logout"
	EndpointConfiguration Endpoint = "configuration"
)

const (
	// DefaultTokenTTL is the access token lifetime if Options.TokenTTL is
	// unset.
	DefaultTokenTTL = time.Hour
	// DefaultSubject is the user every login is approved for if
	// Options.Subject is unset.
	DefaultSubject = "test-user"

	codeValidityTime = 5 * time.Minute
)

// Options configure a Provider. The zero value is usable.
type Options struct {
	// Clients restricts the client IDs and redirect URIs that are accepted.
	// If nil, any are.
	Clients *staticclients.Clients
	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration
	// Subject every login is approved for.
	Subject string
	// UserInfo is returned from the user info endpoint, with sub added.
	UserInfo map[string]any
	// Now is the provider's clock. Defaults to time.Now
	Now    func() time.Time
	Logger *slog.Logger
}

// Request is what the provider saw of a request to one of its endpoints.
type Request struct {
	Form   url.Values
	Header http.Header
}

type grant struct {
	id       uuid.UUID
	clientID string
	subject  string
	scopes   []string
	nonce    string
}

// authCode tracks the stage where a user is authenticated, but has not
// exchanged the code for a token yet
type authCode struct {
	grant *grant
	// secret is the bcrypt hash of the secret part of the code
	secret        []byte
	codeChallenge string
	redirectURI   string
	expiry        time.Time
}

// refreshSession is a refreshable grant. Only the most recently issued
// refresh token is valid.
type refreshSession struct {
	grant  *grant
	secret []byte
}

type accessToken struct {
	grant  *grant
	secret []byte
	scope  string
	expiry time.Time
}

var _ http.Handler = (*Provider)(nil)

// Provider is an http.Handler serving an authorization server rooted at its
// issuer.
type Provider struct {
	opts Options
	md   *discovery.ProviderMetadata
	mux  *http.ServeMux

	mu       sync.Mutex
	codes    map[uuid.UUID]*authCode
	refresh  map[uuid.UUID]*refreshSession
	access   map[uuid.UUID]*accessToken
	revoked  []string
	requests map[Endpoint][]Request
	failures map[Endpoint]int
	delays   map[Endpoint]time.Duration
	authErr  oauth2.AuthErrorCode
	rawToken string
	// refreshErr rejects refresh grants, leaving code grants working.
	refreshErr oauth2.TokenErrorCode
}

// NewProvider creates a provider for issuer, which must be the URL the
// handler is served at.
func NewProvider(issuer string, opts *Options) (*Provider, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	p := &Provider{
		mux:      http.NewServeMux(),
		codes:    make(map[uuid.UUID]*authCode),
		refresh:  make(map[uuid.UUID]*refreshSession),
		access:   make(map[uuid.UUID]*accessToken),
		requests: make(map[Endpoint][]Request),
		failures: make(map[Endpoint]int),
		delays:   make(map[Endpoint]time.Duration),
	}
	if opts != nil {
		p.opts = *opts
	}
	if p.opts.TokenTTL == 0 {
		p.opts.TokenTTL = DefaultTokenTTL
	}
	if p.opts.Subject == "" {
		p.opts.Subject = DefaultSubject
	}
	if p.opts.Now == nil {
		p.opts.Now = time.Now
	}
	if p.opts.Logger == nil {
		p.opts.Logger = slog.New(slog.DiscardHandler)
	}

	md := discovery.DefaultMetadata(issuer)
	md.AuthorizationEndpoint = issuer + "/authorize"
	md.TokenEndpoint = issuer + "/token"
	md.RevocationEndpoint = issuer + "/revoke"
	md.IntrospectionEndpoint = issuer + "/introspect"
	md.UserinfoEndpoint = issuer + "/userinfo"
	md.EndSessionEndpoint = issuer + "/logout"
	p.md = md

	ch, err := discovery.NewConfigurationHandler(md)
	if err != nil {
		return nil, fmt.Errorf("creating configuration handler: %w", err)
	}

	p.mux.Handle("GET "+discovery.WellKnownPath, p.endpoint(EndpointConfiguration, ch.ServeHTTP))
	p.mux.Handle("GET /authorize", p.endpoint(EndpointAuthorize, p.serveAuthorize))
	p.mux.Handle("POST /token", p.endpoint(EndpointToken, p.serveToken))
	p.mux.Handle("POST /revoke", p.endpoint(EndpointRevoke, p.serveRevoke))
	p.mux.Handle("POST /introspect", p.endpoint(EndpointIntrospect, p.serveIntrospect))
	p.mux.Handle("GET /userinfo", p.endpoint(EndpointUserInfo, p.serveUserInfo))
	p.mux.Handle("GET /logout", p.endpoint(EndpointLogout, p.serveLogout))

	return p, nil
}

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Metadata returns the provider's discovery document.
func (p *Provider) Metadata() *discovery.ProviderMetadata {
	md := *p.md
	return &md
}

// Requests returns the number of requests an endpoint has received.
func (p *Provider) Requests(e Endpoint) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests[e])
}

// LastRequest returns the most recent request to an endpoint, and false if
// there has been none.
func (p *Provider) LastRequest(e Endpoint) (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs := p.requests[e]
	if len(rs) == 0 {
		return Request{}, false
	}
	return rs[len(rs)-1], true
}

// SetFailure makes every request to the endpoint fail with status. A zero
// status stops injecting failures.
func (p *Provider) SetFailure(e Endpoint, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == 0 {
		delete(p.failures, e)
		return
	}
	p.failures[e] = status
}

// SetDelay makes the endpoint wait d before handling each request.
func (p *Provider) SetDelay(e Endpoint, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays[e] = d
}

// SetAuthorizeError makes the authorization endpoint redirect back with the
// given error code instead of a code. An empty code restores approvals.
func (p *Provider) SetAuthorizeError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authErr = oauth2.AuthErrorCode(code)
}

// SetRefreshError makes the token endpoint reject every refresh_token grant
// with the given error code. Authorization code grants are unaffected. An
// empty code restores refreshes.
func (p *Provider) SetRefreshError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshErr = oauth2.TokenErrorCode(code)
}

// SetRawTokenResponse makes the token endpoint answer every request with a
// 200 and body, without issuing anything. An empty body restores normal
// behaviour.
func (p *Provider) SetRawTokenResponse(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rawToken = body
}

// Revoked returns the tokens that have been revoked, in order.
func (p *Provider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.revoked)
}

// ExpireAccessTokens makes every issued access token expired.
func (p *Provider) ExpireAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, at := range p.access {
		at.expiry = time.Time{}
	}
}

// endpoint records the request, and applies any injected delay or failure
// before calling h.
func (p *Provider) endpoint(e Endpoint, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.requests[e] = append(p.requests[e], Request{Form: maps.Clone(r.Form), Header: r.Header.Clone()})
		status := p.failures[e]
		delay := p.delays[e]
		p.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			http.Error(w, "injected failure", status)
			return
		}

		h(w, r)
	})
}

func (p *Provider) serveAuthorize(w http.ResponseWriter, req *http.Request) {
	ar, err := oauth2.ParseAuthRequest(req)
	if err != nil {
		_ = oauth2.WriteError(w, req, err)
		return
	}

	if p.opts.Clients != nil {
		ok, err := p.opts.Clients.IsValidClientID(ar.ClientID)
		if err != nil || !ok {
			_ = oauth2.WriteError(w, req, &oauth2.HTTPError{Code: http.StatusBadRequest, Message: "unknown client"})
			return
		}
		ok, err = p.opts.Clients.ValidateClientRedirectURI(ar.ClientID, ar.RedirectURI)
		if err != nil || !ok {
			_ = oauth2.WriteError(w, req, &oauth2.HTTPError{Code: http.StatusBadRequest, Message: "redirect_uri not registered for client"})
			return
		}
	}

	redir, err := url.Parse(ar.RedirectURI)
	if err != nil || ar.RedirectURI == "" {
		_ = oauth2.WriteError(w, req, &oauth2.HTTPError{Code: http.StatusBadRequest, Message: "invalid redirect_uri"})
		return
	}

	p.mu.Lock()
	authErr := p.authErr
	p.mu.Unlock()
	if authErr != "" {
		_ = oauth2.WriteError(w, req, &oauth2.AuthError{
			State:       ar.State,
			Code:        authErr,
			Description: "injected authorization failure",
			RedirectURI: ar.RedirectURI,
		})
		return
	}

	id, code, hash, err := newToken()
	if err != nil {
		_ = oauth2.WriteError(w, req, &oauth2.HTTPError{Code: http.StatusInternalServerError, Cause: err})
		return
	}

	p.mu.Lock()
	p.codes[id] = &authCode{
		grant: &grant{
			id:       uuid.New(),
			clientID: ar.ClientID,
			subject:  p.opts.Subject,
			scopes:   ar.Scopes,
			nonce:    ar.Nonce,
		},
		secret:        hash,
		codeChallenge: ar.CodeChallenge,
		redirectURI:   ar.RedirectURI,
		expiry:        p.opts.Now().Add(codeValidityTime),
	}
	p.mu.Unlock()

	if err := oauth2.SendCodeAuthResponse(w, req, &oauth2.CodeAuthResponse{
		RedirectURI: redir,
		State:       ar.State,
		Code:        code,
	}); err != nil {
		p.opts.Logger.ErrorContext(req.Context(), "sending code response", "err", err.Error())
	}
}

func (p *Provider) serveToken(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	raw := p.rawToken
	p.mu.Unlock()
	if raw != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(raw))
		return
	}

	tr, err := oauth2.ParseTokenRequest(req)
	if err != nil {
		_ = oauth2.WriteError(w, req, err)
		return
	}

	if p.opts.Clients != nil {
		if ok, err := p.opts.Clients.IsValidClientID(tr.ClientID); err != nil || !ok {
			_ = oauth2.WriteError(w, req, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidClient, Description: "unknown client"})
			return
		}
	}

	p.mu.Lock()
	refreshErr := p.refreshErr
	p.mu.Unlock()
	if refreshErr != "" && tr.GrantType == oauth2.GrantTypeRefreshToken {
		_ = oauth2.WriteError(w, req, &oauth2.TokenError{ErrorCode: refreshErr, Description: "refresh rejected"})
		return
	}

	var resp *oauth2.TokenResponse
	switch tr.GrantType {
	case oauth2.GrantTypeAuthorizationCode:
		resp, err = p.codeToken(tr)
	case oauth2.GrantTypeRefreshToken:
		resp, err = p.refreshToken(tr)
	}
	if err != nil {
		p.opts.Logger.DebugContext(req.Context(), "token request failed", "grant_type", tr.GrantType, "err", err.Error())
		_ = oauth2.WriteError(w, req, err)
		return
	}

	if err := oauth2.WriteTokenResponse(w, resp); err != nil {
		p.opts.Logger.ErrorContext(req.Context(), "writing token response", "err", err.Error())
	}
}

func (p *Provider) codeToken(tr *oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ac, ok := lookup(p.codes, tr.Code)
	if !ok {
		return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidGrant, Description: "invalid code"}
	}
	// codes are single use, whatever the outcome
	delete(p.codes, id)

	if p.opts.Now().After(ac.expiry) {
		return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidGrant, Description: "code expired"}
	}
	if ac.grant.clientID != tr.ClientID {
		return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidGrant, Description: "code issued to another client"}
	}
	if ac.redirectURI != tr.RedirectURI {
		return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidGrant, Description: "redirect_uri does not match"}
	}
	if !verifyChallenge(ac.codeChallenge, tr.CodeVerifier) {
		return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidGrant, Description: "code_verifier does not match code_challenge"}
	}

	return p.issue(ac.grant, uuid.New(), tr.Scope)
}

func (p *Provider) refreshToken(tr *oauth2.TokenRequest) (*oauth2.TokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, rs, ok := lookup(p.refresh, tr.RefreshToken)
	if !ok {
		return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidGrant, Description: "invalid refresh token"}
	}
	if rs.grant.clientID != tr.ClientID {
		return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidGrant, Description: "refresh token issued to another client"}
	}

	return p.issue(rs.grant, id, tr.Scope)
}

// issue creates an access token for the requested scope, and a new refresh
// token for the session, replacing the previous one. Must be called with mu
// held.
func (p *Provider) issue(g *grant, sessionID uuid.UUID, scope string) (*oauth2.TokenResponse, error) {
	scopes := strings.Fields(scope)
	if len(scopes) == 0 {
		scopes = g.scopes
	}
	for _, s := range scopes {
		if !slices.Contains(g.scopes, s) {
			return nil, &oauth2.TokenError{ErrorCode: oauth2.TokenErrorCodeInvalidScope, Description: fmt.Sprintf("scope %s was not granted", s)}
		}
	}

	atID, at, atHash, err := newToken()
	if err != nil {
		return nil, err
	}
	rtSecret, rtHash, err := newSecret()
	if err != nil {
		return nil, err
	}

	p.access[atID] = &accessToken{
		grant:  g,
		secret: atHash,
		scope:  strings.Join(scopes, " "),
		expiry: p.opts.Now().Add(p.opts.TokenTTL),
	}
	p.refresh[sessionID] = &refreshSession{grant: g, secret: rtHash}

	return &oauth2.TokenResponse{
		AccessToken:  at,
		TokenType:    "Bearer",
		ExpiresIn:    p.opts.TokenTTL,
		RefreshToken: sessionID.String() + "." + rtSecret,
		Scopes:       scopes,
	}, nil
}

func (p *Provider) serveRevoke(w http.ResponseWriter, req *http.Request) {
	rr, err := oauth2.ParseRevocationRequest(req)
	if err != nil {
		_ = oauth2.WriteError(w, req, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// https://tools.ietf.org/html/rfc7009#section-2.2 unknown tokens are not
	// an error
	if id, _, ok := lookup(p.refresh, rr.Token); ok {
		delete(p.refresh, id)
		p.revoked = append(p.revoked, rr.Token)
	} else if id, _, ok := lookup(p.access, rr.Token); ok {
		delete(p.access, id)
		p.revoked = append(p.revoked, rr.Token)
	}
	w.WriteHeader(http.StatusOK)
}

func (p *Provider) serveIntrospect(w http.ResponseWriter, req *http.Request) {
	ir, err := oauth2.ParseIntrospectionRequest(req)
	if err != nil {
		_ = oauth2.WriteError(w, req, err)
		return
	}

	at, ok := p.validAccessToken(ir.Token)
	if !ok {
		_ = oauth2.WriteIntrospectionResponse(w, false, nil)
		return
	}
	_ = oauth2.WriteIntrospectionResponse(w, true, map[string]any{
		"scope":      at.scope,
		"client_id":  at.grant.clientID,
		"sub":        at.grant.subject,
		"token_type": "Bearer",
		"exp":        at.expiry.Unix(),
	})
}

func (p *Provider) serveUserInfo(w http.ResponseWriter, req *http.Request) {
	tok := req.Header.Get("Authorization")
	if scheme, t, ok := strings.Cut(tok, " "); ok && strings.EqualFold(scheme, "bearer") {
		tok = t
	}

	at, ok := p.validAccessToken(tok)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	info := maps.Clone(p.opts.UserInfo)
	if info == nil {
		info = map[string]any{}
	}
	info["sub"] = at.grant.subject

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		p.opts.Logger.ErrorContext(req.Context(), "writing user info", "err", err.Error())
	}
}

func (p *Provider) serveLogout(w http.ResponseWriter, req *http.Request) {
	if ret := req.FormValue("post_logout_redirect_uri"); ret != "" {
		http.Redirect(w, req, ret, http.StatusFound)
		return
	}
	_, _ = w.Write([]byte("logged out"))
}

func (p *Provider) validAccessToken(tok string) (*accessToken, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, at, ok := lookup(p.access, tok)
	if !ok || !p.opts.Now().Before(at.expiry) {
		return nil, false
	}
	return at, true
}

type hashed interface {
	*authCode | *refreshSession | *accessToken
}

func secretOf[T hashed](v T) []byte {
	switch v := any(v).(type) {
	case *authCode:
		return v.secret
	case *refreshSession:
		return v.secret
	case *accessToken:
		return v.secret
	}
	return nil
}

// lookup finds the entry for an id.secret token, checking the secret against
// the stored hash.
func lookup[T hashed](m map[uuid.UUID]T, tok string) (uuid.UUID, T, bool) {
	var zero T
	ids, secret, ok := strings.Cut(tok, ".")
	if !ok {
		return uuid.Nil, zero, false
	}
	id, err := uuid.Parse(ids)
	if err != nil {
		return uuid.Nil, zero, false
	}
	v, ok := m[id]
	if !ok {
		return uuid.Nil, zero, false
	}
	if err := bcrypt.CompareHashAndPassword(secretOf(v), []byte(secret)); err != nil {
		return uuid.Nil, zero, false
	}
	return id, v, true
}

// newToken returns a new id.secret token, and the hash of its secret for
// storage.
func newToken() (uuid.UUID, string, []byte, error) {
	id := uuid.New()
	secret, hash, err := newSecret()
	if err != nil {
		return uuid.Nil, "", nil, err
	}
	return id, id.String() + "." + secret, hash, nil
}

func newSecret() (string, []byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("reading random: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(b)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing secret: %w", err)
	}
	return secret, hash, nil
}

// https://tools.ietf.org/html/rfc7636#section-4.6
func verifyChallenge(challenge, verifier string) bool {
	h := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(h[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(challenge)) == 1
}
