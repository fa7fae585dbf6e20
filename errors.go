package pkceclient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCode is returned by HandleRedirectCallback when the current
	// location has no authorization code.
	ErrMissingCode = errors.New("authorization response has no code")
	// ErrMissingVerifier is returned by HandleRedirectCallback when no code
	// verifier is stored, for example when the callback is replayed.
	ErrMissingVerifier = errors.New("no code verifier stored for this client")
	// ErrMissingRefreshToken is returned when a refresh is needed but the
	// client holds no refresh token.
	ErrMissingRefreshToken = errors.New("no refresh token stored for this client")
	// ErrNoAccessToken is returned by token sources when the resource is not
	// authenticated.
	ErrNoAccessToken = errors.New("no access token for resource")
)

// CallbackError is returned when the authorization server redirected back
// with an error instead of a code. It matches ErrMissingCode.
type CallbackError struct {
	ErrorCode   string
	Description string
	ErrorURI    string
}

func (c *CallbackError) Error() string {
	str := fmt.Sprintf("authorization failed: %s", c.ErrorCode)
	if c.Description != "" {
		str = fmt.Sprintf("%s: %s", str, c.Description)
	}
	return str
}

func (c *CallbackError) Is(target error) bool {
	return target == ErrMissingCode
}

// TokenExchangeError is returned when the token endpoint rejects a code
// exchange or refresh, or answers with something that is not a usable token
// response.
type TokenExchangeError struct {
	// Resource the exchange was for.
	Resource string
	// GrantType is authorization_code or refresh_token.
	GrantType string
	// StatusCode is the HTTP status, zero if no response was received.
	StatusCode int
	// ErrorCode and Description are the provider's error and
	// error_description, if it sent them.
	ErrorCode   string
	Description string
	Cause       error
}

func (t *TokenExchangeError) Error() string {
	str := fmt.Sprintf("%s exchange for resource %s failed", t.GrantType, t.Resource)
	switch {
	case t.ErrorCode != "" && t.Description != "":
		str = fmt.Sprintf("%s: %s: %s", str, t.ErrorCode, t.Description)
	case t.ErrorCode != "":
		str = fmt.Sprintf("%s: %s", str, t.ErrorCode)
	case t.Cause != nil:
		str = fmt.Sprintf("%s: %v", str, t.Cause)
	}
	return str
}

func (t *TokenExchangeError) Unwrap() error {
	return t.Cause
}

// UnknownResourceError is returned when an operation names a resource that is
// not in the client's configuration.
type UnknownResourceError struct {
	Resource string
}

func (u *UnknownResourceError) Error() string {
	return fmt.Sprintf("resource %q is not configured", u.Resource)
}

// UserInfoFetchError is returned when the user info endpoint does not answer
// with a 200.
type UserInfoFetchError struct {
	StatusCode int
	Cause      error
}

func (u *UserInfoFetchError) Error() string {
	if u.Cause != nil {
		return fmt.Sprintf("fetching user info: %v", u.Cause)
	}
	return fmt.Sprintf("fetching user info: HTTP %d", u.StatusCode)
}

func (u *UserInfoFetchError) Unwrap() error {
	return u.Cause
}

// IntrospectionError is returned when the introspection endpoint does not
// answer with a 200.
type IntrospectionError struct {
	StatusCode int
}

func (i *IntrospectionError) Error() string {
	return fmt.Sprintf("introspecting token: HTTP %d", i.StatusCode)
}

// NotConfiguredError is returned when an operation needs an endpoint or
// resource the client was not configured with.
type NotConfiguredError struct {
	What string
}

func (n *NotConfiguredError) Error() string {
	return fmt.Sprintf("%s is not configured", n.What)
}

// ConfigError lists everything wrong with a Config.
type ConfigError struct {
	Problems []string
}

func (c *ConfigError) Error() string {
	return fmt.Sprintf("invalid client config: %s", strings.Join(c.Problems, ", "))
}
