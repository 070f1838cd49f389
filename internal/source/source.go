// Package source fetches raw job notices from upstream feeds and pages.
//
// Adapters never return errors: a failed fetch is logged and yields nothing,
// so one broken government site cannot stall a polling pass.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobbot/internal/posting"
	logx "jobbot/pkg/logx"
)

// Source fetches one upstream endpoint.
type Source interface {
	Name() string
	Fetch(ctx context.Context) []posting.RawPosting
}

const (
	DefaultTimeout   = 30 * time.Second
	DefaultLimit     = 5
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxBodyBytes = 8 << 20
)

// Options are shared by every adapter.
type Options struct {
	// Limit caps the entries kept per source (K).
	Limit     int
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client
	Log       logx.Logger
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > 50 {
		o.Limit = 50
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

// StatusError reports a non-200 upstream response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

// get fetches url with browser-like headers and returns the body.
func get(ctx context.Context, o Options, url, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", o.UserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-IN,en;q=0.9,hi;q=0.8")

	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
