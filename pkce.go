package pkceclient

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"io"
)

// verifierBytes of entropy give a 43 character verifier, the RFC 7636 minimum.
const verifierBytes = 32

// GenerateVerifier returns a PKCE code verifier built from 32 bytes of r. If
// r is nil, crypto/rand is used. It panics if r fails.
func GenerateVerifier(r io.Reader) string {
	if r == nil {
		r = rand.Reader
	}
	randomBytes := make([]byte, verifierBytes)
	if _, err := io.ReadFull(r, randomBytes); err != nil {
		panic(err) // this should never fail in a recoverable way
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes)
}

// CodeChallenge returns the S256 challenge for verifier. If newHash is nil,
// SHA-256 is used.
//
// https://tools.ietf.org/html/rfc7636#section-4.2
func CodeChallenge(newHash func() hash.Hash, verifier string) string {
	if newHash == nil {
		newHash = sha256.New
	}
	h := newHash()
	h.Write([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
