package pkceclient

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestQualifiedScopes(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		Resource Resource
		Want     []string
	}{
		{
			Name:     "plain id",
			Resource: Resource{ID: "billing", Scopes: []string{"invoices", "payments"}},
			Want:     []string{"billing/invoices", "billing/payments"},
		},
		{
			Name:     "id with trailing slash",
			Resource: Resource{ID: "https://api.example.com/", Scopes: []string{"read"}},
			Want:     []string{"https://api.example.com/read"},
		},
		{
			Name:     "no scopes",
			Resource: Resource{ID: "api"},
			Want:     []string{},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			if diff := cmp.Diff(tc.Want, tc.Resource.QualifiedScopes()); diff != "" {
				t.Error(diff)
			}
		})
	}

	cfg := Config{Resources: defaultResources()}
	want := []string{"https://api.example.com/read", "billing/invoices", "billing/payments"}
	if diff := cmp.Diff(want, cfg.scopes()); diff != "" {
		t.Errorf("config scopes: %s", diff)
	}
	if got := cfg.Resources[1].ScopeString(); got != "billing/invoices billing/payments" {
		t.Errorf("unexpected scope string %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ClientID: "cli",
			Endpoints: Endpoints{
				Authorization: "https://issuer/authorize",
				Token:         "https://issuer/token",
			},
			Resources: defaultResources(),
		}
	}

	for _, tc := range []struct {
		Name         string
		Mutate       func(*Config)
		WantProblems int
	}{
		{
			Name:   "valid",
			Mutate: func(*Config) {},
		},
		{
			Name:         "missing client id",
			Mutate:       func(c *Config) { c.ClientID = "" },
			WantProblems: 1,
		},
		{
			Name: "missing endpoints",
			Mutate: func(c *Config) {
				c.Endpoints = Endpoints{}
			},
			WantProblems: 2,
		},
		{
			Name:         "no resources",
			Mutate:       func(c *Config) { c.Resources = nil },
			WantProblems: 1,
		},
		{
			Name: "duplicate resource",
			Mutate: func(c *Config) {
				c.Resources = append(c.Resources, Resource{ID: "billing"})
			},
			WantProblems: 1,
		},
		{
			Name: "empty resource id",
			Mutate: func(c *Config) {
				c.Resources = append(c.Resources, Resource{})
			},
			WantProblems: 1,
		},
		{
			Name: "two user info resources",
			Mutate: func(c *Config) {
				c.Resources[1].UserInfo = true
			},
			WantProblems: 1,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			cfg := valid()
			tc.Mutate(&cfg)

			err := cfg.Validate()
			if tc.WantProblems == 0 {
				if err != nil {
					t.Fatalf("want no error, got: %v", err)
				}
				return
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("want *ConfigError, got: %v", err)
			}
			if len(cerr.Problems) != tc.WantProblems {
				t.Errorf("want %d problems, got: %v", tc.WantProblems, cerr.Problems)
			}
		})
	}
}

func TestConfigIsCopied(t *testing.T) {
	h := newHarness(t, nil)

	cfg := h.c.Config()
	cfg.Resources[0].Scopes[0] = "changed"
	cfg.Nonce = "changed"

	got := h.c.Config()
	if got.Resources[0].Scopes[0] != "read" {
		t.Error("modifying the returned config changed the client")
	}
	if got.Nonce != DefaultNonce {
		t.Errorf("want default nonce, got %q", got.Nonce)
	}
}
