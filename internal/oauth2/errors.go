package oauth2

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// WriteError completes the response for err.
//
// AuthErrors with a redirect URI are sent back to the client as query
// parameters (https://tools.ietf.org/html/rfc6749#section-4.1.2.1), without
// one they are a plain 400. TokenErrors are written as the JSON body of RFC
// 6749 section 5.2. Anything else is a 500.
func WriteError(w http.ResponseWriter, req *http.Request, err error) error {
	switch err := err.(type) {
	case *AuthError:
		if err.RedirectURI == "" {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil
		}
		params := url.Values{"error": {string(err.Code)}}
		if err.Description != "" {
			params.Set("error_description", err.Description)
		}
		return redirectWith(w, req, err.RedirectURI, err.State, params)

	case *HTTPError:
		msg, status := err.Message, err.Code
		if msg == "" {
			msg = "Internal error"
		}
		if status == 0 {
			status = http.StatusInternalServerError
		}
		http.Error(w, msg, status)
		return nil

	case *TokenError:
		return writeTokenError(w, err)

	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil
	}
}

func writeTokenError(w http.ResponseWriter, err *TokenError) error {
	status := err.StatusCode
	if status == 0 {
		status = http.StatusBadRequest
		if err.ErrorCode == TokenErrorCodeInvalidClient {
			status = http.StatusUnauthorized
		}
	}
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(err); err != nil {
		return fmt.Errorf("writing token error: %w", err)
	}
	return nil
}

// redirectWith sends the user agent to base with params and state added to
// its query.
func redirectWith(w http.ResponseWriter, req *http.Request, base, state string, params url.Values) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parsing redirect URI %q: %w", base, err)
	}
	q := u.Query()
	if state != "" {
		q.Set("state", state)
	}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, req, u.String(), http.StatusFound)
	return nil
}

// HTTPError is answered with a plain text body. Message is shown to the user.
type HTTPError struct {
	Code    int
	Message string
	Cause   error
}

func (h *HTTPError) Error() string {
	if h.Cause != nil {
		return fmt.Sprintf("http error %d: %s (cause: %s)", h.Code, h.Message, h.Cause)
	}
	return fmt.Sprintf("http error %d: %s", h.Code, h.Message)
}

func (h *HTTPError) Unwrap() error { return h.Cause }

// AuthErrorCode is an authorization endpoint error code.
type AuthErrorCode string

const (
	AuthErrorCodeInvalidRequest          AuthErrorCode = "invalid_request"
	AuthErrorCodeAccessDenied            AuthErrorCode = "access_denied"
	AuthErrorCodeUnsupportedResponseType AuthErrorCode = "unsupported_response_type"
)

// AuthError is returned to the client at its redirect URI.
type AuthError struct {
	State       string
	Code        AuthErrorCode
	Description string
	RedirectURI string
	Cause       error
}

func (a *AuthError) Error() string {
	if a.Cause != nil {
		return fmt.Sprintf("authorization request failed with %s: %s (cause: %s)", a.Code, a.Description, a.Cause)
	}
	return fmt.Sprintf("authorization request failed with %s: %s", a.Code, a.Description)
}

func (a *AuthError) Unwrap() error { return a.Cause }

// TokenErrorCode is a token endpoint error code.
type TokenErrorCode string

const (
	TokenErrorCodeInvalidRequest       TokenErrorCode = "invalid_request"
	TokenErrorCodeInvalidClient        TokenErrorCode = "invalid_client"
	TokenErrorCodeInvalidGrant         TokenErrorCode = "invalid_grant"
	TokenErrorCodeUnsupportedGrantType TokenErrorCode = "unsupported_grant_type"
	TokenErrorCodeInvalidScope         TokenErrorCode = "invalid_scope"
)

// TokenError is an error response from the token endpoint, either sent by a
// server or parsed by a client.
type TokenError struct {
	ErrorCode   TokenErrorCode `json:"error,omitempty"`
	Description string         `json:"error_description,omitempty"`
	ErrorURI    string         `json:"error_uri,omitempty"`
	// StatusCode is the HTTP status the error was received with, or should be
	// sent with. Zero sends the default for the code.
	StatusCode int   `json:"-"`
	Cause      error `json:"-"`
}

func (t *TokenError) Error() string {
	code := string(t.ErrorCode)
	if code == "" {
		code = "unknown"
	}
	if t.Cause != nil {
		return fmt.Sprintf("token request failed with %s: %s (cause: %s)", code, t.Description, t.Cause)
	}
	return fmt.Sprintf("token request failed with %s: %s", code, t.Description)
}

func (t *TokenError) Unwrap() error { return t.Cause }
