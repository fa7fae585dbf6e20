package pkceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

const userInfoFlightKey = "userinfo"

// userInfoCache holds the last user info response. Every access token change
// bumps gen, so a fetch that started before the change is not cached.
type userInfoCache struct {
	mu    sync.Mutex
	value map[string]any
	gen   uint64

	group singleflight.Group
}

func (u *userInfoCache) invalidate() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.value = nil
	u.gen++
}

func (u *userInfoCache) cached() (map[string]any, uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.value, u.gen
}

func (u *userInfoCache) store(v map[string]any, gen uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gen == gen {
		u.value = v
	}
}

// GetUserInfo returns the claims from the user info endpoint, using the user
// info resource's access token. The response is cached until any access token
// changes, and concurrent callers share a single request. A nil map with a nil
// error means the user info resource is not authenticated. The returned map is
// shared and must not be modified.
func (c *Client) GetUserInfo(ctx context.Context) (map[string]any, error) {
	if c.cfg.Endpoints.UserInfo == "" {
		return nil, &NotConfiguredError{What: "user info endpoint"}
	}
	res, ok := c.cfg.userInfoResource()
	if !ok {
		return nil, &NotConfiguredError{What: "user info resource"}
	}

	if v, _ := c.userInfo.cached(); v != nil {
		return v, nil
	}

	// the flight outlives any one caller, each waits on its own ctx
	fctx := context.WithoutCancel(ctx)
	ch := c.userInfo.group.DoChan(userInfoFlightKey, func() (any, error) {
		if v, _ := c.userInfo.cached(); v != nil {
			return v, nil
		}

		tok, err := c.GetAccessToken(fctx, res.ID)
		if err != nil {
			return nil, err
		}
		if tok == "" {
			return nil, nil
		}
		_, gen := c.userInfo.cached()

		info, err := c.fetchUserInfo(fctx, tok)
		if err != nil {
			return nil, err
		}
		c.userInfo.store(info, gen)
		return info, nil
	})

	var v any
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		v = r.Val
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for user info: %w", ctx.Err())
	}
	info, _ := v.(map[string]any)
	return info, nil
}

func (c *Client) fetchUserInfo(ctx context.Context, token string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoints.UserInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("creating user info request: %w", err)
	}
	auth := token
	if c.cfg.UserInfoAuthScheme != "" {
		auth = c.cfg.UserInfoAuthScheme + " " + token
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &UserInfoFetchError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UserInfoFetchError{StatusCode: resp.StatusCode}
	}

	var info map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, &UserInfoFetchError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("decoding response: %w", err)}
	}
	if info == nil {
		// a JSON null body still counts as fetched
		info = map[string]any{}
	}
	return info, nil
}
