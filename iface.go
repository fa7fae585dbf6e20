package pkceclient

import (
	"context"
	"net/url"
)

// Navigator moves the user agent to a URL. For a login this is the point the
// current flow hands over to the authorization server, the flow continues in
// HandleRedirectCallback.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc adapts a function to a Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

func (f NavigatorFunc) Navigate(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Location reports the URL the user agent is currently at. The callback reads
// the authorization response from it, and logout uses it as the default
// return address.
type Location interface {
	CurrentURL(ctx context.Context) (*url.URL, error)
}

// LocationFunc adapts a function to a Location.
type LocationFunc func(ctx context.Context) (*url.URL, error)

func (f LocationFunc) CurrentURL(ctx context.Context) (*url.URL, error) {
	return f(ctx)
}

// StaticLocation is a Location that is always at u.
func StaticLocation(u *url.URL) Location {
	return LocationFunc(func(context.Context) (*url.URL, error) {
		c := *u
		return &c, nil
	})
}
