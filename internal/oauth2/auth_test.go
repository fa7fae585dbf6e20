package oauth2

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAuthRequest(t *testing.T) {
	const challenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	full := url.Values{
		"response_type":         {"code"},
		"client_id":             {"desktop"},
		"redirect_uri":          {"http://127.0.0.1:5000/cb"},
		"scope":                 {"api/read  graph/User.Read"},
		"state":                 {"st"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"nonce":                 {"n"},
		"prompt":                {"login"},
	}
	without := func(keys ...string) string {
		v := url.Values{}
		for k, vs := range full {
			v[k] = vs
		}
		for _, k := range keys {
			v.Del(k)
		}
		return v.Encode()
	}

	for _, tc := range []struct {
		Name     string
		Method   string
		Query    string
		WantCode AuthErrorCode
	}{
		{
			Name:   "HEAD is refused",
			Method: "HEAD",
			Query:  full.Encode(),
		},
		{
			Name:     "implicit grant",
			Query:    strings.Replace(full.Encode(), "response_type=code", "response_type=token", 1),
			WantCode: AuthErrorCodeUnsupportedResponseType,
		},
		{
			Name:     "no client",
			Query:    without("client_id"),
			WantCode: AuthErrorCodeInvalidRequest,
		},
		{
			Name:     "no challenge",
			Query:    without("code_challenge"),
			WantCode: AuthErrorCodeInvalidRequest,
		},
		{
			Name:     "plain challenge",
			Query:    without("code_challenge_method"),
			WantCode: AuthErrorCodeInvalidRequest,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			meth := tc.Method
			if meth == "" {
				meth = "GET"
			}
			_, err := ParseAuthRequest(httptest.NewRequest(meth, "https://op/authorize?"+tc.Query, nil))
			if err == nil {
				t.Fatal("want error, got none")
			}
			if tc.WantCode == "" {
				var herr *HTTPError
				if !errors.As(err, &herr) {
					t.Fatalf("want *HTTPError, got %T", err)
				}
				return
			}
			var aerr *AuthError
			if !errors.As(err, &aerr) {
				t.Fatalf("want *AuthError, got %T", err)
			}
			if aerr.Code != tc.WantCode {
				t.Errorf("want err code %s, got: %s", tc.WantCode, aerr.Code)
			}
			if aerr.State != "st" {
				t.Errorf("state %q not carried to the error", aerr.State)
			}
		})
	}

	t.Run("accepted", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://op/authorize", strings.NewReader(full.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		got, err := ParseAuthRequest(req)
		if err != nil {
			t.Fatal(err)
		}
		want := &AuthRequest{
			ClientID:      "desktop",
			RedirectURI:   "http://127.0.0.1:5000/cb",
			State:         "st",
			Scopes:        []string{"api/read", "graph/User.Read"},
			CodeChallenge: challenge,
			Nonce:         "n",
			Prompt:        "login",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Error(diff)
		}
	})
}

func TestSendCodeAuthResponse(t *testing.T) {
	for _, tc := range []struct {
		Name           string
		Resp           *CodeAuthResponse
		WantRedirectTo string
	}{
		{
			Name: "valid response",
			Resp: &CodeAuthResponse{
				RedirectURI: mustURL("https://redirect"),
				State:       "state",
				Code:        "code",
			},
			WantRedirectTo: "https://redirect?code=code&state=state",
		},
		{
			Name: "no state",
			Resp: &CodeAuthResponse{
				RedirectURI: mustURL("http://127.0.0.1:8080/callback?x=1"),
				Code:        "code",
			},
			WantRedirectTo: "http://127.0.0.1:8080/callback?code=code&x=1",
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://auth", nil)
			w := httptest.NewRecorder()

			if err := SendCodeAuthResponse(w, req, tc.Resp); err != nil {
				t.Fatal(err)
			}

			if w.Result().StatusCode < 300 || w.Result().StatusCode > 399 {
				t.Errorf("want redirect status, got %d", w.Result().StatusCode)
			}

			loc := w.Result().Header.Get("location")

			if tc.WantRedirectTo != loc {
				t.Errorf("want redirect to %s, got: %s", tc.WantRedirectTo, loc)
			}
		})
	}
}

func TestWriteAuthError(t *testing.T) {
	req := httptest.NewRequest("GET", "http://auth", nil)
	w := httptest.NewRecorder()

	err := WriteError(w, req, &AuthError{
		State:       "st",
		Code:        AuthErrorCodeAccessDenied,
		Description: "user said no",
		RedirectURI: "https://redirect/cb",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "https://redirect/cb?error=access_denied&error_description=user+said+no&state=st"
	if got := w.Result().Header.Get("location"); got != want {
		t.Errorf("want redirect to %s, got: %s", want, got)
	}
}

func mustURL(str string) *url.URL {
	u, err := url.Parse(str)
	if err != nil {
		panic("err")
	}
	return u
}
