package pkceclient

import (
	"fmt"
	"strings"
)

// DefaultNonce is sent as the nonce parameter when Config.Nonce is empty.
const DefaultNonce = "defaultNonce"

// Endpoints are the authorization server URLs the client talks to.
// Authorization and Token are required, the rest enable the matching
// operation.
type Endpoints struct {
	Authorization string
	Token         string
	// Revocation is used to revoke tokens on logout.
	Revocation string
	// EndSession is navigated to at the end of logout.
	EndSession string
	// Introspection enables IntrospectToken.
	Introspection string
	// UserInfo enables GetUserInfo.
	UserInfo string
}

// Resource is a protected API the client obtains a separate access token for.
type Resource struct {
	// ID identifies the resource, and prefixes its scopes.
	ID string
	// Scopes are requested for this resource, unqualified.
	Scopes []string
	// UserInfo marks the resource whose token is presented to the user info
	// endpoint. At most one resource may set it.
	UserInfo bool
}

// QualifiedScopes returns the resource's scopes, each prefixed with the
// resource ID.
func (r Resource) QualifiedScopes() []string {
	prefix := r.ID
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	qs := make([]string, 0, len(r.Scopes))
	for _, s := range r.Scopes {
		qs = append(qs, prefix+s)
	}
	return qs
}

// ScopeString is the space separated qualified scopes, as sent to the token
// endpoint.
func (r Resource) ScopeString() string {
	return strings.Join(r.QualifiedScopes(), " ")
}

// Config describes the client and the resources it accesses. The first
// resource is the one the authorization code is redeemed for.
type Config struct {
	ClientID  string
	Endpoints Endpoints
	Resources []Resource
	// Nonce is sent with every authorization request. Defaults to
	// DefaultNonce.
	Nonce string
	// UserInfoAuthScheme, if set, is prepended to the token in the
	// Authorization header sent to the user info endpoint, e.g. "Bearer".
	// By default the raw token is sent.
	UserInfoAuthScheme string
}

// Validate checks the config is usable, returning a *ConfigError listing all
// problems.
func (c *Config) Validate() error {
	var errs []string

	if c.ClientID == "" {
		errs = append(errs, "ClientID is required")
	}
	if c.Endpoints.Authorization == "" {
		errs = append(errs, "authorization endpoint is required")
	}
	if c.Endpoints.Token == "" {
		errs = append(errs, "token endpoint is required")
	}
	if len(c.Resources) == 0 {
		errs = append(errs, "at least one resource is required")
	}

	seen := map[string]bool{}
	var userInfo int
	for i, r := range c.Resources {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("resource %d has no ID", i))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Sprintf("resource %s is configured more than once", r.ID))
		}
		seen[r.ID] = true
		if r.UserInfo {
			userInfo++
		}
	}
	if userInfo > 1 {
		errs = append(errs, "only one resource may be the user info resource")
	}

	if len(errs) > 0 {
		return &ConfigError{Problems: errs}
	}
	return nil
}

func (c *Config) resource(id string) (Resource, error) {
	for _, r := range c.Resources {
		if r.ID == id {
			return r, nil
		}
	}
	return Resource{}, &UnknownResourceError{Resource: id}
}

func (c *Config) userInfoResource() (Resource, bool) {
	for _, r := range c.Resources {
		if r.UserInfo {
			return r, true
		}
	}
	return Resource{}, false
}

// scopes is every resource's qualified scopes, in configuration order.
func (c *Config) scopes() []string {
	var s []string
	for _, r := range c.Resources {
		s = append(s, r.QualifiedScopes()...)
	}
	return s
}

func (c *Config) clone() Config {
	n := *c
	n.Resources = make([]Resource, len(c.Resources))
	for i, r := range c.Resources {
		r.Scopes = append([]string(nil), r.Scopes...)
		n.Resources[i] = r
	}
	return n
}
