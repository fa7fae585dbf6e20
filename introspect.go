package pkceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	ioauth2 "github.com/lstoll/pkceclient/internal/oauth2"
)

// Introspection is the authorization server's view of a token.
//
// https://tools.ietf.org/html/rfc7662#section-2.2
type Introspection struct {
	Active bool
	// Claims is the response as returned, including "active".
	Claims map[string]any
}

// IntrospectToken asks the introspection endpoint about the resource's stored
// access token. It returns nil without a request if the resource has no
// token. The stored token is used as is, it is not refreshed first.
func (c *Client) IntrospectToken(ctx context.Context, resourceID string) (*Introspection, error) {
	if c.cfg.Endpoints.Introspection == "" {
		return nil, &NotConfiguredError{What: "introspection endpoint"}
	}
	if _, err := c.cfg.resource(resourceID); err != nil {
		return nil, err
	}

	a, err := c.loadAccess(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if a.token == "" {
		return nil, nil
	}

	ir := &ioauth2.IntrospectionRequest{Token: a.token, ClientID: c.cfg.ClientID}
	status, body, err := ioauth2.PostForm(ctx, c.hc, c.cfg.Endpoints.Introspection, ir.Form())
	if err != nil {
		return nil, fmt.Errorf("introspecting token: %w", err)
	}
	if status != http.StatusOK {
		return nil, &IntrospectionError{StatusCode: status}
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("decoding introspection response: %w", err)
	}
	active, _ := claims["active"].(bool)
	return &Introspection{Active: active, Claims: claims}, nil
}
