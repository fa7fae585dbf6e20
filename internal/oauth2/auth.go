package oauth2

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	ResponseTypeCode        = "code"
	CodeChallengeMethodS256 = "S256"
)

// AuthRequest is an authorization code request with a PKCE challenge, as the
// authorization endpoint receives it.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.1
// https://tools.ietf.org/html/rfc7636#section-4.3
type AuthRequest struct {
	ClientID string
	// RedirectURI is empty if the client sent none.
	RedirectURI   string
	State         string
	Scopes        []string
	CodeChallenge string
	Nonce         string
	Prompt        string
}

// ParseAuthRequest reads an authorization request from the query or form.
// Errors are either an *HTTPError, or an *AuthError to be sent back to the
// client. Both are written with WriteError.
func ParseAuthRequest(req *http.Request) (*AuthRequest, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, &HTTPError{Code: http.StatusBadRequest, Message: "method must be POST or GET"}
	}

	ar := &AuthRequest{
		ClientID:      req.FormValue("client_id"),
		RedirectURI:   req.FormValue("redirect_uri"),
		State:         req.FormValue("state"),
		Scopes:        strings.Fields(req.FormValue("scope")),
		CodeChallenge: req.FormValue("code_challenge"),
		Nonce:         req.FormValue("nonce"),
		Prompt:        req.FormValue("prompt"),
	}
	reject := func(code AuthErrorCode, desc string) (*AuthRequest, error) {
		return nil, &AuthError{State: ar.State, Code: code, Description: desc, RedirectURI: ar.RedirectURI}
	}

	switch {
	case req.FormValue("response_type") != ResponseTypeCode:
		return reject(AuthErrorCodeUnsupportedResponseType, `response_type must be "code"`)
	case ar.ClientID == "":
		return reject(AuthErrorCodeInvalidRequest, "client_id is required")
	case ar.CodeChallenge == "":
		return reject(AuthErrorCodeInvalidRequest, "code_challenge is required")
	case req.FormValue("code_challenge_method") != CodeChallengeMethodS256:
		return reject(AuthErrorCodeInvalidRequest, "code_challenge_method must be S256")
	}
	return ar, nil
}

// CodeAuthResponse is a successful authorization, returned to the client at
// its redirect URI.
type CodeAuthResponse struct {
	RedirectURI *url.URL
	State       string
	Code        string
}

// SendCodeAuthResponse redirects the user agent back to the client with the
// issued code.
//
// https://tools.ietf.org/html/rfc6749#section-4.1.2
func SendCodeAuthResponse(w http.ResponseWriter, req *http.Request, resp *CodeAuthResponse) error {
	return redirectWith(w, req, resp.RedirectURI.String(), resp.State, url.Values{"code": {resp.Code}})
}
