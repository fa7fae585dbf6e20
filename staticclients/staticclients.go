// Package staticclients is a fixed registry of public OAuth2 clients, for
// servers that authenticate PKCE clients by client ID and redirect URI alone.
package staticclients

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/lstoll/pkceclient/internal/expand"
)

var (
	// reValidLoopbackRedirectURI is a fairly strict regular expression that
	// must match against a loopback redirect URI. It intentionally may not
	// match all URLs that are technically valid, but is it meant to match all
	// commonly constructed ones, without inadvertently falling victim to
	// parser bugs or parser inconsistencies (e.g.,
	// https://www.blackhat.com/docs/us-17/thursday/us-17-Tsai-A-New-Era-Of-SSRF-Exploiting-URL-Parser-In-Trending-Programming-Languages.pdf)
	reValidLoopbackRedirectURI = regexp.MustCompile(`\Ahttp://(?:localhost|127\.0\.0\.1)(?::[0-9]{1,5})?(?:|/[A-Za-z0-9./_-]{0,1000})\z`)
)

// Clients is a static list of clients. The type is tagged, to enable loading
// from JSON/YAML. This can be created directly, or via unserializing / using
// the ExpandUnmarshal function
type Clients struct {
	// Clients is the list of clients
	Clients []Client `json:"clients" yaml:"clients"`
}

// ExpandUnmarshal will take the given JSON, expand variables inside it from
// the environment, and decode it strictly. Variables may have defaults, e.g
//
// `{"id": "${CLIENT_ID:-cli}"}`
//
// If the input is YAML, it should be converted with
// https://pkg.go.dev/sigs.k8s.io/yaml#YAMLToJSON first.
func ExpandUnmarshal(jsonBytes []byte) (*Clients, error) {
	var c Clients
	if err := expand.Unmarshal(jsonBytes, &c); err != nil {
		return nil, err
	}
	for i, cl := range c.Clients {
		if cl.ID == "" {
			return nil, fmt.Errorf("client %d has no id", i)
		}
	}
	return &c, nil
}

// Client is an individual public client. Public clients cannot keep a
// secret, so they must use PKCE.
//
// https://datatracker.ietf.org/doc/html/rfc6749#section-2.1
type Client struct {
	// ID is the identifier for this client, corresponds to the client ID.
	ID string `json:"id" yaml:"id"`
	// RedirectURLs is a list of valid redirect URLs for this client. At least
	// one is required, unless PermitLocalhostRedirect is true. These are an
	// exact match
	RedirectURLs []string `json:"redirectURLs" yaml:"redirectURLs"`
	// PermitLocalhostRedirect allows redirects to any port and path on
	// localhost, for native apps that listen on an ephemeral port.
	//
	// https://datatracker.ietf.org/doc/html/rfc8252#section-7.3
	PermitLocalhostRedirect bool `json:"permitLocalhostRedirect" yaml:"permitLocalhostRedirect"`
}

func (c *Clients) IsValidClientID(clientID string) (ok bool, err error) {
	_, ok = c.getClient(clientID)
	return ok, nil
}

func (c *Clients) ValidateClientRedirectURI(clientID, redirectURI string) (ok bool, err error) {
	cl, ok := c.getClient(clientID)
	if !ok {
		return false, fmt.Errorf("invalid client ID")
	}

	if cl.PermitLocalhostRedirect && IsLoopbackRedirectURI(redirectURI) {
		// this is a valid loopback redirect for a client who allows it, all good
		return true, nil
	}

	return slices.Contains(cl.RedirectURLs, redirectURI), nil
}

func (c *Clients) getClient(id string) (Client, bool) {
	for _, c := range c.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return Client{}, false
}

// IsLoopbackRedirectURI reports whether u is a plain http redirect to the
// local machine, as used by native apps.
func IsLoopbackRedirectURI(u string) bool {
	return reValidLoopbackRedirectURI.MatchString(u)
}
