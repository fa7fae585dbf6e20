package oauth2

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// TokenTypeHint tells the revocation endpoint what kind of token is being
// presented.
//
// https://tools.ietf.org/html/rfc7009#section-2.1
type TokenTypeHint string

const (
	TokenTypeHintAccessToken  TokenTypeHint = "access_token"
	TokenTypeHintRefreshToken TokenTypeHint = "refresh_token"
)

type RevocationRequest struct {
	Token         string
	TokenTypeHint TokenTypeHint
	ClientID      string
}

func (r *RevocationRequest) Form() url.Values {
	v := url.Values{
		"token":     {r.Token},
		"client_id": {r.ClientID},
	}
	if r.TokenTypeHint != "" {
		v.Set("token_type_hint", string(r.TokenTypeHint))
	}
	return v
}

// ParseRevocationRequest parses a token revocation request.
//
// https://tools.ietf.org/html/rfc7009#section-2.1
func ParseRevocationRequest(req *http.Request) (*RevocationRequest, error) {
	if req.Method != http.MethodPost {
		return nil, &HTTPError{Code: http.StatusMethodNotAllowed, Message: "method must be POST"}
	}
	rr := &RevocationRequest{
		Token:         req.FormValue("token"),
		TokenTypeHint: TokenTypeHint(req.FormValue("token_type_hint")),
		ClientID:      req.FormValue("client_id"),
	}
	if rr.Token == "" {
		return nil, &TokenError{ErrorCode: TokenErrorCodeInvalidRequest, Description: "token is required"}
	}
	return rr, nil
}

type IntrospectionRequest struct {
	Token    string
	ClientID string
}

func (i *IntrospectionRequest) Form() url.Values {
	return url.Values{
		"token":     {i.Token},
		"client_id": {i.ClientID},
	}
}

// ParseIntrospectionRequest parses a token introspection request.
//
// https://tools.ietf.org/html/rfc7662#section-2.1
func ParseIntrospectionRequest(req *http.Request) (*IntrospectionRequest, error) {
	if req.Method != http.MethodPost {
		return nil, &HTTPError{Code: http.StatusMethodNotAllowed, Message: "method must be POST"}
	}
	ir := &IntrospectionRequest{
		Token:    req.FormValue("token"),
		ClientID: req.FormValue("client_id"),
	}
	if ir.Token == "" {
		return nil, &TokenError{ErrorCode: TokenErrorCodeInvalidRequest, Description: "token is required"}
	}
	return ir, nil
}

// WriteIntrospectionResponse writes the introspection result. Claims are only
// included for active tokens.
//
// https://tools.ietf.org/html/rfc7662#section-2.2
func WriteIntrospectionResponse(w http.ResponseWriter, active bool, claims map[string]any) error {
	resp := map[string]any{}
	if active {
		for k, v := range claims {
			resp[k] = v
		}
	}
	resp["active"] = active

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to write introspection response json body: %w", err)
	}
	return nil
}
