package staticclients

import (
	"os"
	"testing"
)

func TestStaticClients(t *testing.T) {
	cb, err := os.ReadFile("testdata/clients.json")
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		Name    string
		WithEnv map[string]string

		ClientID          string
		WantInvalidClient bool

		WantValidRedirect   string
		WantInvalidRedirect string
	}{
		{
			Name:                "Valid simple client",
			ClientID:            "simple",
			WantValidRedirect:   "http://myserver.com",
			WantInvalidRedirect: "http://othermyserver.com",
		},
		{
			Name:              "Missing client ID",
			ClientID:          "not-in-file",
			WantInvalidClient: true,
		},
		{
			Name:                "Localhost redirect permitted",
			ClientID:            "publocal",
			WantValidRedirect:   "http://localhost:8007/callback",
			WantInvalidRedirect: "http://othermyserver.com",
		},
		{
			Name:                "Localhost redirect with odd path",
			ClientID:            "publocal",
			WantValidRedirect:   "http://127.0.0.1:41234",
			WantInvalidRedirect: "http://localhost:8007/callback?x=@evil.com",
		},
		{
			Name:                "Localhost not permitted",
			ClientID:            "simple",
			WantInvalidRedirect: "http://localhost:8007/callback",
		},
		{
			Name:                "Env client ID, not set",
			ClientID:            "envclient",
			WantValidRedirect:   "http://envclient.com",
			WantInvalidRedirect: "http://myserver.com",
		},
		{
			Name: "Env client ID, set",
			WithEnv: map[string]string{
				"SC_CLIENT_ID": "explicitclient",
			},
			ClientID:          "explicitclient",
			WantValidRedirect: "http://envclient.com",
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			for k, v := range tc.WithEnv {
				t.Setenv(k, v)
			}

			// after env set
			clients, err := ExpandUnmarshal(cb)
			if err != nil {
				t.Fatal(err)
			}

			valid, err := clients.IsValidClientID(tc.ClientID)
			if err != nil {
				// we never error
				t.Fatal(err)
			}

			if tc.WantInvalidClient {
				if valid {
					t.Error("client should not be valid but is")
				}
				if _, err := clients.ValidateClientRedirectURI(tc.ClientID, ""); err == nil {
					t.Error("client redirect uri check should fail")
				}
				return
			}

			if !valid {
				t.Errorf("client %s should be valid", tc.ClientID)
			}

			if tc.WantValidRedirect != "" {
				valid, err := clients.ValidateClientRedirectURI(tc.ClientID, tc.WantValidRedirect)
				if err != nil {
					t.Fatal(err)
				}
				if !valid {
					t.Errorf("want redirect %s to be valid, but it was not", tc.WantValidRedirect)
				}
			}
			if tc.WantInvalidRedirect != "" {
				valid, err := clients.ValidateClientRedirectURI(tc.ClientID, tc.WantInvalidRedirect)
				if err != nil {
					t.Fatal(err)
				}
				if valid {
					t.Errorf("want redirect %s to be invalid, but it was", tc.WantInvalidRedirect)
				}
			}
		})
	}
}

func TestExpandUnmarshalRejects(t *testing.T) {
	for _, tc := range []struct {
		Name string
		In   string
	}{
		{Name: "unknown field", In: `{"clients":[{"id":"a","clientSecrets":["x"]}]}`},
		{Name: "missing id", In: `{"clients":[{"redirectURLs":["http://a"]}]}`},
		{Name: "not json", In: `clients: []`},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			if _, err := ExpandUnmarshal([]byte(tc.In)); err == nil {
				t.Error("want error, got none")
			}
		})
	}
}
