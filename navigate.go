package pkceclient

import (
	"context"
	"fmt"

	"github.com/pkg/browser"
)

var _ Navigator = BrowserNavigator{}

// BrowserNavigator opens URLs in the user's default browser. It is the
// default Navigator.
type BrowserNavigator struct{}

func (BrowserNavigator) Navigate(_ context.Context, u string) error {
	if err := browser.OpenURL(u); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}
