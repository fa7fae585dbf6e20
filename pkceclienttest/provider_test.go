package pkceclienttest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/lstoll/pkceclient/staticclients"
)

const (
	testVerifier    = "dBjftJeZ4CVP-mJ0hA0LRG6s9KKaEv6M9T8fqsK8xTw"
	testRedirectURI = "http://localhost:8080/callback"
)

func challenge(v string) string {
	h := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

func authURL(s *Server, clientID, scope string) string {
	v := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {scope},
		"state":                 {"st"},
		"code_challenge":        {challenge(testVerifier)},
		"code_challenge_method": {"S256"},
	}
	return s.Metadata().AuthorizationEndpoint + "?" + v.Encode()
}

func postForm(t *testing.T, s *Server, endpoint string, form url.Values) (int, map[string]any) {
	t.Helper()
	resp, err := s.Client().PostForm(endpoint, form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestCodeFlow(t *testing.T) {
	ctx := context.Background()
	s := NewServer(t, nil)

	cb, err := s.Authorize(ctx, authURL(s, "cli", "api/read api/write"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cb.Query().Get("state"); got != "st" {
		t.Errorf("want state st, got %q", got)
	}
	code := cb.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in %s", cb)
	}

	md := s.Metadata()
	status, body := postForm(t, s, md.TokenEndpoint, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"cli"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"api/read"},
	})
	if status != http.StatusOK {
		t.Fatalf("token exchange: %d %v", status, body)
	}
	at, _ := body["access_token"].(string)
	rt, _ := body["refresh_token"].(string)
	if at == "" || rt == "" {
		t.Fatalf("missing tokens: %v", body)
	}
	if body["expires_in"] != float64(3600) {
		t.Errorf("want expires_in 3600, got %v", body["expires_in"])
	}

	// codes are single use
	status, _ = postForm(t, s, md.TokenEndpoint, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"cli"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"redirect_uri":  {testRedirectURI},
	})
	if status != http.StatusBadRequest {
		t.Errorf("want replayed code rejected, got %d", status)
	}

	status, body = postForm(t, s, md.IntrospectionEndpoint, url.Values{"token": {at}})
	if status != http.StatusOK || body["active"] != true || body["scope"] != "api/read" {
		t.Errorf("unexpected introspection: %d %v", status, body)
	}

	status, body = postForm(t, s, md.TokenEndpoint, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"cli"},
		"refresh_token": {rt},
		"scope":         {"api/write"},
	})
	if status != http.StatusOK {
		t.Fatalf("refresh: %d %v", status, body)
	}
	if body["refresh_token"] == rt {
		t.Error("refresh token was not rotated")
	}

	// the previous refresh token is no longer valid
	status, _ = postForm(t, s, md.TokenEndpoint, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"cli"},
		"refresh_token": {rt},
	})
	if status != http.StatusBadRequest {
		t.Errorf("want rotated refresh token rejected, got %d", status)
	}

	status, body = postForm(t, s, md.TokenEndpoint, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"cli"},
		"refresh_token": {body["refresh_token"].(string)},
		"scope":         {"other/scope"},
	})
	if status != http.StatusBadRequest || body["error"] != "invalid_scope" {
		t.Errorf("want invalid_scope, got %d %v", status, body)
	}
}

func TestPKCEMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewServer(t, nil)

	cb, err := s.Authorize(ctx, authURL(s, "cli", "api/read"))
	if err != nil {
		t.Fatal(err)
	}

	status, body := postForm(t, s, s.Metadata().TokenEndpoint, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"cli"},
		"code":          {cb.Query().Get("code")},
		"code_verifier": {strings.Repeat("a", 43)},
		"redirect_uri":  {testRedirectURI},
	})
	if status != http.StatusBadRequest || body["error"] != "invalid_grant" {
		t.Errorf("want invalid_grant, got %d %v", status, body)
	}
}

func TestRegisteredClients(t *testing.T) {
	ctx := context.Background()
	s := NewServer(t, &Options{
		Clients: &staticclients.Clients{Clients: []staticclients.Client{
			{ID: "cli", PermitLocalhostRedirect: true},
			{ID: "web", RedirectURLs: []string{"https://app.example.com/cb"}},
		}},
	})

	if _, err := s.Authorize(ctx, authURL(s, "cli", "api/read")); err != nil {
		t.Errorf("loopback redirect for cli should be accepted: %v", err)
	}
	if _, err := s.Authorize(ctx, authURL(s, "web", "api/read")); err == nil {
		t.Error("loopback redirect for web should be rejected")
	}
	if _, err := s.Authorize(ctx, authURL(s, "unknown", "api/read")); err == nil {
		t.Error("unknown client should be rejected")
	}
}

func TestInjectedFailures(t *testing.T) {
	ctx := context.Background()
	s := NewServer(t, nil)

	s.SetAuthorizeError("access_denied")
	cb, err := s.Authorize(ctx, authURL(s, "cli", "api/read"))
	if err != nil {
		t.Fatal(err)
	}
	if cb.Query().Get("error") != "access_denied" || cb.Query().Get("code") != "" {
		t.Errorf("want access_denied redirect, got %s", cb)
	}
	s.SetAuthorizeError("")

	s.SetFailure(EndpointRevoke, http.StatusServiceUnavailable)
	status, _ := postForm(t, s, s.Metadata().RevocationEndpoint, url.Values{"token": {"x"}})
	if status != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", status)
	}
	if got := s.Requests(EndpointRevoke); got != 1 {
		t.Errorf("want 1 revoke request, got %d", got)
	}

	s.SetRawTokenResponse(`{"access_token":"a"}`)
	status, body := postForm(t, s, s.Metadata().TokenEndpoint, url.Values{})
	if status != http.StatusOK || body["access_token"] != "a" {
		t.Errorf("want raw response, got %d %v", status, body)
	}
}
