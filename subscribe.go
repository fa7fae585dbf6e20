package pkceclient

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

type subscription struct {
	fn func(accessToken string)
}

// Subscribe registers fn to be called with the resource's access token each
// time it is written or cleared, with an empty string when there is none. fn
// is called once before Subscribe returns with the current value. Callbacks
// run synchronously on the goroutine that changed the token and may call back
// into the client.
//
// The returned function removes the subscription, calling it more than once
// is harmless. The same fn may be subscribed several times, each
// registration is independent.
func (c *Client) Subscribe(ctx context.Context, resourceID string, fn func(accessToken string)) (unsubscribe func(), err error) {
	if _, err := c.cfg.resource(resourceID); err != nil {
		return nil, err
	}

	s := &subscription{fn: fn}

	c.subsMu.Lock()
	c.subs[resourceID] = append(c.subs[resourceID], s)
	c.subsMu.Unlock()

	var once sync.Once
	unsubscribe = func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			c.subs[resourceID] = slices.DeleteFunc(c.subs[resourceID], func(e *subscription) bool {
				return e == s
			})
		})
	}

	a, err := c.loadAccess(ctx, resourceID)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	fn(a.token)

	return unsubscribe, nil
}

// notify reads the resource's persisted token and passes it to every
// subscriber, in subscription order.
func (c *Client) notify(ctx context.Context, resourceID string) {
	c.subsMu.Lock()
	subs := slices.Clone(c.subs[resourceID])
	c.subsMu.Unlock()

	if len(subs) == 0 {
		return
	}

	a, err := c.loadAccess(ctx, resourceID)
	if err != nil {
		c.logger.WarnContext(ctx, "reading token to notify subscribers", baseLogAttr, slog.String("resource", resourceID), errAttr(err))
	}

	for _, s := range subs {
		s.fn(a.token)
	}
}
