package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

var _ http.Handler = (*ConfigurationHandler)(nil)

// ConfigurationHandler is a http.Handler that serves the provider metadata
// endpoint.
//
// It should be mounted at `<issuer>/.well-known/openid-configuration`. Any
// prefix should be stripped before calling this ConfigurationHandler
type ConfigurationHandler struct {
	md *ProviderMetadata

	mux *http.ServeMux
}

// DefaultMetadata returns a ProviderMetadata instance with defaults suitable
// for a server that only issues codes to PKCE public clients. Endpoints need
// to be added to this.
func DefaultMetadata(issuer string) *ProviderMetadata {
	return &ProviderMetadata{
		Issuer:                            issuer,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}
}

// NewConfigurationHandler configures and returns a ConfigurationHandler.
func NewConfigurationHandler(metadata *ProviderMetadata) (*ConfigurationHandler, error) {
	h := &ConfigurationHandler{
		md:  metadata,
		mux: http.NewServeMux(),
	}

	if err := validateMetadata(h.md); err != nil {
		return nil, err
	}

	h.mux.HandleFunc("GET "+WellKnownPath, h.serveConfig)

	return h, nil
}

func (h *ConfigurationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *ConfigurationHandler) serveConfig(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.md); err != nil {
		slog.ErrorContext(req.Context(), "writing provider metadata", "err", err.Error())
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
}

func validateMetadata(p *ProviderMetadata) error {
	var errs []string

	aestr := func(val, e string) {
		if val == "" {
			errs = append(errs, e)
		}
	}

	aessl := func(val []string, e string) {
		if len(val) == 0 {
			errs = append(errs, e)
		}
	}

	aestr(p.Issuer, "Issuer is required")
	aestr(p.AuthorizationEndpoint, "AuthorizationEndpoint is required")
	aestr(p.TokenEndpoint, "TokenEndpoint is required")
	aessl(p.ResponseTypesSupported, "ResponseTypes supported is required")

	if len(p.CodeChallengeMethodsSupported) > 0 && !slices.Contains(p.CodeChallengeMethodsSupported, "S256") {
		errs = append(errs, "CodeChallengeMethodsSupported must include S256")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid provider metadata: %s", strings.Join(errs, ", "))
	}
	return nil
}
