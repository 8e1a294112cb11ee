// Package httputil holds the HTTP plumbing shared by the audio node REST
// client and the alert notifier.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	WebhookTimeout = 30 * time.Second

	MaxResponseBody = 2 << 20 // 2 MiB
	// maxSnippet bounds error bodies quoted in error messages.
	maxSnippet = 200
)

func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewJSONRequest builds a request whose body is body encoded as JSON. A nil
// body sends no payload and no Content-Type.
func NewJSONRequest(ctx context.Context, method, rawURL string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// ReadBody reads at most MaxResponseBody bytes and closes the body. Whatever
// is left past the limit is drained so the connection can be reused.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer DrainBody(resp)
	return io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
}

// DrainBody ensures the connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBody))
		resp.Body.Close()
	}
}

// OK reports whether status is 2xx.
func OK(status int) bool {
	return status >= 200 && status < 300
}

// Snippet renders an error body for a log line or error message, cut to a
// couple hundred runes.
func Snippet(b []byte) string {
	r := []rune(string(bytes.TrimSpace(b)))
	if len(r) > maxSnippet {
		return string(r[:maxSnippet]) + "..."
	}
	return string(r)
}

// ValidateWebhookURL checks that a URL can be used as an alert target.
func ValidateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
