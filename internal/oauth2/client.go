package oauth2

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseBytes bounds how much of an endpoint response we will read.
const maxResponseBytes = 1 << 20

// PostForm sends the form to the endpoint and returns the status and body.
// Only transport and read failures are errors; callers interpret the status.
func PostForm(ctx context.Context, hc *http.Client, endpoint string, form url.Values) (statusCode int, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("posting to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	return resp.StatusCode, body, nil
}
