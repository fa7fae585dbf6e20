package pkceclient

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/lstoll/pkceclient/pkceclienttest"
)

func TestIntrospectToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	in, err := h.c.IntrospectToken(ctx, "billing")
	if err != nil || in != nil {
		t.Fatalf("unauthenticated introspection should be nil, got %v %v", in, err)
	}

	h.login(ctx)

	in, err = h.c.IntrospectToken(ctx, "billing")
	if err != nil {
		t.Fatal(err)
	}
	if !in.Active || in.Claims["scope"] != "billing/invoices billing/payments" || in.Claims["client_id"] != testClientID {
		t.Errorf("unexpected introspection %+v", in)
	}

	h.srv.ExpireAccessTokens()
	in, err = h.c.IntrospectToken(ctx, "billing")
	if err != nil {
		t.Fatal(err)
	}
	if in.Active {
		t.Error("expired token should be inactive")
	}

	h.srv.SetFailure(pkceclienttest.EndpointIntrospect, http.StatusBadGateway)
	var ierr *IntrospectionError
	if _, err := h.c.IntrospectToken(ctx, "billing"); !errors.As(err, &ierr) || ierr.StatusCode != http.StatusBadGateway {
		t.Errorf("want 502 IntrospectionError, got: %v", err)
	}
}

func TestIntrospectNotConfigured(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Endpoints.Introspection = "" })
	var nerr *NotConfiguredError
	if _, err := h.c.IntrospectToken(context.Background(), "billing"); !errors.As(err, &nerr) {
		t.Errorf("want *NotConfiguredError, got: %v", err)
	}
}

func TestHTTPClient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	if _, err := h.c.TokenSource(ctx, "billing").Token(); !errors.Is(err, ErrNoAccessToken) {
		t.Errorf("want ErrNoAccessToken before login, got: %v", err)
	}

	h.login(ctx)

	tok, err := h.c.TokenSource(ctx, "billing").Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.TokenType != "Bearer" || !tok.Expiry.Equal(testEpoch.Add(pkceclienttest.DefaultTokenTTL)) {
		t.Errorf("unexpected token %+v", tok)
	}

	hc := h.c.HTTPClient(ctx, "billing")
	resp, err := hc.Get(h.c.Config().Endpoints.UserInfo)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200 from user info with bearer token, got %d", resp.StatusCode)
	}
	last, _ := h.srv.LastRequest(pkceclienttest.EndpointUserInfo)
	if got := last.Header.Get("Authorization"); got != "Bearer "+tok.AccessToken {
		t.Errorf("unexpected authorization %q", got)
	}
}
