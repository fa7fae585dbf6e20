package discovery

// ProviderMetadata is the subset of the authorization server metadata a PKCE
// public client uses. Unknown fields are ignored when decoding.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
// https://tools.ietf.org/html/rfc8414#section-2
type ProviderMetadata struct {
	// REQUIRED. URL using the https scheme with no query or fragment
	// component that the server asserts as its Issuer Identifier.
	Issuer string `json:"issuer"`
	// REQUIRED. URL of the authorization endpoint.
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	// URL of the token endpoint. Required unless only the implicit flow is
	// supported, which a PKCE client cannot use.
	TokenEndpoint string `json:"token_endpoint,omitempty"`
	// RECOMMENDED. URL of the user info endpoint.
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
	// OPTIONAL. URL of the RFC 7009 revocation endpoint.
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`
	// OPTIONAL. URL of the RFC 7662 introspection endpoint.
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	// OPTIONAL. URL the user agent is sent to for RP initiated logout.
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
	// RECOMMENDED. Scope values the server supports.
	ScopesSupported []string `json:"scopes_supported,omitempty"`
	// REQUIRED. response_type values the server supports.
	ResponseTypesSupported []string `json:"response_types_supported"`
	// OPTIONAL. Grant types the server supports.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`
	// OPTIONAL. PKCE code challenge methods the server supports.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
	// OPTIONAL. Client authentication methods the token endpoint supports.
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}
