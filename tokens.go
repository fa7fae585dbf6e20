package pkceclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Storage keys are {client_id}.{resource_id}.AccessToken and
// {client_id}.{resource_id}.ExpirationTime per resource, and
// {client_id}.RefreshToken and {client_id}.CodeVerifier per client.
const (
	keyAccessToken    = "AccessToken"
	keyExpirationTime = "ExpirationTime"
	keyRefreshToken   = "RefreshToken"
	keyCodeVerifier   = "CodeVerifier"
)

func (c *Client) key(parts ...string) string {
	return c.cfg.ClientID + "." + strings.Join(parts, ".")
}

// storedAccess is a resource's access token as persisted. expiresAt is epoch
// milliseconds, only meaningful if hasExpiry is set.
type storedAccess struct {
	token     string
	expiresAt int64
	hasExpiry bool
}

// expired treats a missing expiry as expired. A token is still valid in the
// millisecond it expires.
func (c *Client) expired(a storedAccess) bool {
	return !a.hasExpiry || c.now().UnixMilli() > a.expiresAt
}

func (c *Client) loadAccess(ctx context.Context, resourceID string) (storedAccess, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var a storedAccess
	tok, _, err := c.store.Get(ctx, c.key(resourceID, keyAccessToken))
	if err != nil {
		return a, fmt.Errorf("reading access token for %s: %w", resourceID, err)
	}
	a.token = tok

	raw, found, err := c.store.Get(ctx, c.key(resourceID, keyExpirationTime))
	if err != nil {
		return a, fmt.Errorf("reading expiry for %s: %w", resourceID, err)
	}
	if !found {
		return a, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.logger.WarnContext(ctx, "ignoring unparseable token expiry", baseLogAttr, slog.String("resource", resourceID), errAttr(err))
		return a, nil
	}
	a.expiresAt = ms
	a.hasExpiry = true
	return a, nil
}

// storeAccess writes the token and its expiry together. If the expiry cannot
// be written the token is removed again.
func (c *Client) storeAccess(ctx context.Context, resourceID, token string, expiresAt int64) error {
	defer c.userInfo.invalidate()

	c.mu.Lock()
	defer c.mu.Unlock()

	tk := c.key(resourceID, keyAccessToken)
	if err := c.store.Set(ctx, tk, token); err != nil {
		return fmt.Errorf("storing access token for %s: %w", resourceID, err)
	}
	if err := c.store.Set(ctx, c.key(resourceID, keyExpirationTime), strconv.FormatInt(expiresAt, 10)); err != nil {
		_ = c.store.Delete(ctx, tk)
		return fmt.Errorf("storing expiry for %s: %w", resourceID, err)
	}
	return nil
}

func (c *Client) clearAccess(ctx context.Context, resourceID string) error {
	defer c.userInfo.invalidate()

	c.mu.Lock()
	defer c.mu.Unlock()

	return errors.Join(
		c.store.Delete(ctx, c.key(resourceID, keyAccessToken)),
		c.store.Delete(ctx, c.key(resourceID, keyExpirationTime)),
	)
}

func (c *Client) loadRefreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rt, _, err := c.store.Get(ctx, c.key(keyRefreshToken))
	if err != nil {
		return "", fmt.Errorf("reading refresh token: %w", err)
	}
	return rt, nil
}

func (c *Client) storeRefreshToken(ctx context.Context, rt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(ctx, c.key(keyRefreshToken), rt); err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

func (c *Client) storeVerifier(ctx context.Context, v string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(ctx, c.key(keyCodeVerifier), v); err != nil {
		return fmt.Errorf("storing code verifier: %w", err)
	}
	return nil
}

// takeVerifier returns the stored verifier and deletes it, whether or not it
// was set.
func (c *Client) takeVerifier(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := c.key(keyCodeVerifier)
	v, _, err := c.store.Get(ctx, k)
	if derr := c.store.Delete(ctx, k); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return "", fmt.Errorf("taking code verifier: %w", err)
	}
	return v, nil
}

// clearClient removes the client-wide fields.
func (c *Client) clearClient(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return errors.Join(
		c.store.Delete(ctx, c.key(keyRefreshToken)),
		c.store.Delete(ctx, c.key(keyCodeVerifier)),
	)
}

// TokenIsExpired reports whether the resource's access token has expired. A
// resource with no recorded expiry is expired.
func (c *Client) TokenIsExpired(ctx context.Context, resourceID string) (bool, error) {
	if _, err := c.cfg.resource(resourceID); err != nil {
		return false, err
	}
	a, err := c.loadAccess(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return c.expired(a), nil
}

// ExpiresAt returns when the resource's access token expires, and false if
// there is no recorded expiry.
func (c *Client) ExpiresAt(ctx context.Context, resourceID string) (time.Time, bool, error) {
	if _, err := c.cfg.resource(resourceID); err != nil {
		return time.Time{}, false, err
	}
	a, err := c.loadAccess(ctx, resourceID)
	if err != nil || !a.hasExpiry {
		return time.Time{}, false, err
	}
	return time.UnixMilli(a.expiresAt), true, nil
}
