package oauth2

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// ErrMalformedResponse is returned when a successful token response does not
// have the shape we require.
var ErrMalformedResponse = errors.New("malformed token response")

// maxExpiresIn caps the lifetime taken from a token response's expires_in.
const maxExpiresIn = 100 * 365 * 24 * time.Hour

type TokenRequest struct {
	GrantType    GrantType
	Code         string
	RefreshToken string
	RedirectURI  string
	ClientID     string
	// CodeVerifier is the PKCE code verifier, if it was submitted with this
	// request.
	CodeVerifier string
	// Scope is the space separated scope string sent with the request.
	Scope string
}

// Form encodes the request for posting to the token endpoint. Public clients
// identify themselves with client_id in the body.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.3
// https://tools.ietf.org/html/rfc6749#section-6
func (t *TokenRequest) Form() url.Values {
	v := url.Values{
		"grant_type": {string(t.GrantType)},
		"client_id":  {t.ClientID},
	}
	switch t.GrantType {
	case GrantTypeAuthorizationCode:
		v.Set("code", t.Code)
		v.Set("code_verifier", t.CodeVerifier)
		v.Set("redirect_uri", t.RedirectURI)
	case GrantTypeRefreshToken:
		v.Set("refresh_token", t.RefreshToken)
	}
	if t.Scope != "" {
		v.Set("scope", t.Scope)
	}
	return v
}

// grantParams are the form values each grant cannot be redeemed without.
var grantParams = map[GrantType][]string{
	GrantTypeAuthorizationCode: {"code", "redirect_uri", "code_verifier"},
	GrantTypeRefreshToken:      {"refresh_token"},
}

// ParseTokenRequest reads a grant posted to the token endpoint by a public
// client. Failures are a *TokenError for WriteError.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.3
// https://tools.ietf.org/html/rfc6749#section-6
func ParseTokenRequest(req *http.Request) (*TokenRequest, error) {
	if req.Method != http.MethodPost {
		return nil, &TokenError{ErrorCode: TokenErrorCodeInvalidRequest, Description: "token requests must be POSTed"}
	}
	if err := req.ParseForm(); err != nil {
		return nil, &TokenError{ErrorCode: TokenErrorCodeInvalidRequest, Description: "unreadable form", Cause: err}
	}
	f := req.PostForm

	gt := GrantType(f.Get("grant_type"))
	required, ok := grantParams[gt]
	if !ok {
		return nil, &TokenError{
			ErrorCode:   TokenErrorCodeUnsupportedGrantType,
			Description: fmt.Sprintf("unsupported grant_type %q", gt),
		}
	}
	if f.Get("client_id") == "" {
		return nil, &TokenError{ErrorCode: TokenErrorCodeInvalidClient, Description: "client_id is required"}
	}
	for _, p := range required {
		if f.Get(p) == "" {
			return nil, &TokenError{
				ErrorCode:   TokenErrorCodeInvalidRequest,
				Description: fmt.Sprintf("%s grant needs %s", gt, p),
			}
		}
	}

	return &TokenRequest{
		GrantType:    gt,
		ClientID:     f.Get("client_id"),
		Code:         f.Get("code"),
		RedirectURI:  f.Get("redirect_uri"),
		CodeVerifier: f.Get("code_verifier"),
		RefreshToken: f.Get("refresh_token"),
		Scope:        f.Get("scope"),
	}, nil
}

// TokenResponse is a successful token endpoint response. Fields the engine
// does not use are kept in ExtraParams.
//
// https://tools.ietf.org/html/rfc6749#section-5.1
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    time.Duration
	RefreshToken string
	Scopes       []string
	ExtraParams  map[string]any
}

// WriteTokenResponse answers a token request with resp.
func WriteTokenResponse(w http.ResponseWriter, resp *TokenResponse) error {
	body := make(map[string]any, len(resp.ExtraParams)+5)
	for k, v := range resp.ExtraParams {
		body[k] = v
	}
	body["access_token"] = resp.AccessToken
	body["token_type"] = resp.TokenType
	if resp.ExpiresIn > 0 {
		body["expires_in"] = int64(resp.ExpiresIn / time.Second)
	}
	if resp.RefreshToken != "" {
		body["refresh_token"] = resp.RefreshToken
	}
	if len(resp.Scopes) > 0 {
		body["scope"] = strings.Join(resp.Scopes, " ")
	}

	h := w.Header()
	h.Set("Content-Type", "application/json;charset=UTF-8")
	h.Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("writing token response: %w", err)
	}
	return nil
}

// ParseTokenResponse decodes the body returned by the token endpoint. Anything
// other than a 200 is returned as a *TokenError, populated from the body when
// it carries an RFC 6749 error. A 200 must contain a string access_token, a
// string refresh_token and a numeric expires_in, otherwise the error wraps
// ErrMalformedResponse.
func ParseTokenResponse(statusCode int, body []byte) (*TokenResponse, error) {
	if statusCode != http.StatusOK {
		terr := &TokenError{}
		if err := json.Unmarshal(body, terr); err != nil || terr.ErrorCode == "" {
			terr = &TokenError{Description: fmt.Sprintf("token endpoint returned HTTP %d", statusCode)}
		}
		terr.StatusCode = statusCode
		return nil, terr
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrMalformedResponse, err)
	}

	at, ok := raw["access_token"].(string)
	if !ok || at == "" {
		return nil, fmt.Errorf("%w: access_token must be a string", ErrMalformedResponse)
	}
	rt, ok := raw["refresh_token"].(string)
	if !ok || rt == "" {
		return nil, fmt.Errorf("%w: refresh_token must be a string", ErrMalformedResponse)
	}
	exp, ok := raw["expires_in"].(float64)
	if !ok || math.IsNaN(exp) || math.IsInf(exp, 0) {
		return nil, fmt.Errorf("%w: expires_in must be a number", ErrMalformedResponse)
	}
	// lifetimes are clamped so the Duration and the millisecond expiry
	// computed from it cannot overflow
	exp = min(max(exp, 0), maxExpiresIn.Seconds())

	resp := &TokenResponse{
		AccessToken:  at,
		RefreshToken: rt,
		ExpiresIn:    time.Duration(exp * float64(time.Second)),
		ExtraParams:  map[string]any{},
	}
	if tt, ok := raw["token_type"].(string); ok {
		resp.TokenType = tt
	}
	if sc, ok := raw["scope"].(string); ok {
		resp.Scopes = strings.Fields(sc)
	}
	for k, v := range raw {
		switch k {
		case "access_token", "refresh_token", "expires_in", "token_type", "scope":
		default:
			resp.ExtraParams[k] = v
		}
	}

	return resp, nil
}
