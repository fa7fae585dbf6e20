package oauth2

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseTokenResponse(t *testing.T) {
	for _, tc := range []struct {
		Name          string
		Status        int
		Body          string
		Want          *TokenResponse
		WantMalformed bool
		WantTokenErr  *TokenError
	}{
		{
			Name:   "Valid",
			Status: http.StatusOK,
			Body:   `{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"Bearer","scope":"api/read","id_token":"x"}`,
			Want: &TokenResponse{
				AccessToken:  "at",
				RefreshToken: "rt",
				ExpiresIn:    time.Hour,
				TokenType:    "Bearer",
				Scopes:       []string{"api/read"},
				ExtraParams:  map[string]any{"id_token": "x"},
			},
		},
		{
			Name:   "Expiry beyond range is clamped",
			Status: http.StatusOK,
			Body:   `{"access_token":"at","refresh_token":"rt","expires_in":1e11}`,
			Want: &TokenResponse{
				AccessToken:  "at",
				RefreshToken: "rt",
				ExpiresIn:    maxExpiresIn,
				ExtraParams:  map[string]any{},
			},
		},
		{
			Name:   "Negative expiry is already expired",
			Status: http.StatusOK,
			Body:   `{"access_token":"at","refresh_token":"rt","expires_in":-30}`,
			Want: &TokenResponse{
				AccessToken:  "at",
				RefreshToken: "rt",
				ExtraParams:  map[string]any{},
			},
		},
		{
			Name:          "Missing refresh token",
			Status:        http.StatusOK,
			Body:          `{"access_token":"at","expires_in":3600}`,
			WantMalformed: true,
		},
		{
			Name:          "Numeric access token",
			Status:        http.StatusOK,
			Body:          `{"access_token":1,"refresh_token":"rt","expires_in":3600}`,
			WantMalformed: true,
		},
		{
			Name:          "String expiry",
			Status:        http.StatusOK,
			Body:          `{"access_token":"at","refresh_token":"rt","expires_in":"3600"}`,
			WantMalformed: true,
		},
		{
			Name:          "Not JSON",
			Status:        http.StatusOK,
			Body:          `<html>`,
			WantMalformed: true,
		},
		{
			Name:   "Provider error",
			Status: http.StatusBadRequest,
			Body:   `{"error":"invalid_grant","error_description":"code expired"}`,
			WantTokenErr: &TokenError{
				ErrorCode:   TokenErrorCodeInvalidGrant,
				Description: "code expired",
				StatusCode:  http.StatusBadRequest,
			},
		},
		{
			Name:   "Non JSON error",
			Status: http.StatusBadGateway,
			Body:   `upstream down`,
			WantTokenErr: &TokenError{
				Description: "token endpoint returned HTTP 502",
				StatusCode:  http.StatusBadGateway,
			},
		},
		{
			Name:   "Non 200 success body",
			Status: http.StatusCreated,
			Body:   `{"access_token":"at","refresh_token":"rt","expires_in":3600}`,
			WantTokenErr: &TokenError{
				Description: "token endpoint returned HTTP 201",
				StatusCode:  http.StatusCreated,
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			got, err := ParseTokenResponse(tc.Status, []byte(tc.Body))

			switch {
			case tc.WantMalformed:
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("want ErrMalformedResponse, got: %v", err)
				}
			case tc.WantTokenErr != nil:
				var terr *TokenError
				if !errors.As(err, &terr) {
					t.Fatalf("want *TokenError, got: %v", err)
				}
				if diff := cmp.Diff(tc.WantTokenErr, terr); diff != "" {
					t.Error(diff)
				}
			default:
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff(tc.Want, got); diff != "" {
					t.Error(diff)
				}
			}
		})
	}
}

func TestTokenRequestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		Name string
		Req  *TokenRequest
	}{
		{
			Name: "Code",
			Req: &TokenRequest{
				GrantType:    GrantTypeAuthorizationCode,
				Code:         "c",
				CodeVerifier: "v",
				RedirectURI:  "http://localhost/cb",
				ClientID:     "client",
				Scope:        "api/read",
			},
		},
		{
			Name: "Refresh",
			Req: &TokenRequest{
				GrantType:    GrantTypeRefreshToken,
				RefreshToken: "rt",
				ClientID:     "client",
				Scope:        "graph/User.Read",
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(tc.Req.Form().Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			got, err := ParseTokenRequest(req)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.Req, got); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestParseTokenRequestErrors(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		Form     url.Values
		WantCode TokenErrorCode
	}{
		{
			Name:     "No client",
			Form:     url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"rt"}},
			WantCode: TokenErrorCodeInvalidClient,
		},
		{
			Name:     "Missing verifier",
			Form:     url.Values{"grant_type": {"authorization_code"}, "client_id": {"c"}, "code": {"x"}, "redirect_uri": {"http://localhost"}},
			WantCode: TokenErrorCodeInvalidRequest,
		},
		{
			Name:     "Unknown grant",
			Form:     url.Values{"grant_type": {"password"}, "client_id": {"c"}},
			WantCode: TokenErrorCodeUnsupportedGrantType,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(tc.Form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			_, err := ParseTokenRequest(req)
			var terr *TokenError
			if !errors.As(err, &terr) {
				t.Fatalf("want *TokenError, got: %v", err)
			}
			if terr.ErrorCode != tc.WantCode {
				t.Errorf("want code %s, got %s", tc.WantCode, terr.ErrorCode)
			}
		})
	}
}

func TestWriteTokenResponse(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteTokenResponse(w, &TokenResponse{
		AccessToken:  "at",
		TokenType:    "Bearer",
		ExpiresIn:    time.Minute,
		RefreshToken: "rt",
	}); err != nil {
		t.Fatal(err)
	}

	body := w.Body.Bytes()
	got, err := ParseTokenResponse(w.Code, body)
	if err != nil {
		t.Fatalf("written response should parse: %v (%s)", err, body)
	}
	if got.ExpiresIn != time.Minute {
		t.Errorf("want expiry of a minute, got %s", got.ExpiresIn)
	}
}
