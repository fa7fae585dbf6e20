// Package pkceclient manages OAuth 2.0 authorization code with PKCE tokens for
// a public client.
//
// A Client sends the user to the authorization server, redeems the returned
// code, keeps per-resource access tokens and a shared refresh token in a
// storage.KeyValueStore, refreshes tokens before they are handed out, and
// tells subscribers when a resource's token changes. A client configured with
// one resource is the common single-resource case.
//
// The client is host-agnostic: navigation, the current location, randomness,
// hashing and time are injected, so the same engine can run in a CLI, behind
// an HTTP middleware or in tests.
package pkceclient
