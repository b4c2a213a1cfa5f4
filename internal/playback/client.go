package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redsquare/screen-booking/internal/model"
)

// SyncClient fetches the content schedule of a screen.
type SyncClient interface {
	FetchSchedule(ctx context.Context, screenID uint64) ([]model.ContentItem, error)
}

// URLSigner exchanges a bucket/object pair for a time-limited URL.
type URLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

// ObjectFetcher opens the bytes behind a URL. size is -1 when unknown.
type ObjectFetcher interface {
	Fetch(ctx context.Context, url string) (body io.ReadCloser, size int64, contentType string, err error)
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client talks to the API server on behalf of a paired player. It
// implements SyncClient, URLSigner and ObjectFetcher.
type Client struct {
	base  string
	token string
	// http carries the small JSON calls and bounds each one end to end.
	http *http.Client
	// download streams object bodies. A large video may take far longer
	// than timeout to arrive, so only the wait for response headers is
	// bounded here and the body is bounded by the caller's context.
	download *http.Client
}

// NewClient returns a Client for the API at base, authenticating with the
// device token issued at pairing. timeout bounds API calls and the wait for
// an object's response headers.
func NewClient(base, token string, timeout time.Duration) *Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout
	return &Client{
		base:     strings.TrimRight(base, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
		download: &http.Client{Transport: tr},
	}
}

func (c *Client) FetchSchedule(ctx context.Context, screenID uint64) ([]model.ContentItem, error) {
	var out struct {
		Schedule []model.ContentItem `json:"schedule"`
	}
	if err := c.postJSON(ctx, "/v1/content-sync", map[string]any{"screen_id": screenID}, &out); err != nil {
		return nil, fmt.Errorf("content sync: %w", err)
	}
	if out.Schedule == nil {
		out.Schedule = []model.ContentItem{}
	}
	return out.Schedule, nil
}

func (c *Client) SignedURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error) {
	var out struct {
		SignedURL string `json:"signed_url"`
	}
	in := map[string]any{"bucket": bucket, "path": object, "expires_in": int(expiry / time.Second)}
	if err := c.postJSON(ctx, "/v1/storage/sign", in, &out); err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", bucket, object, err)
	}
	return c.absolute(out.SignedURL), nil
}

// Fetch GETs url. Server-relative URLs are resolved against the API base.
// The caller closes body; reading it is limited only by ctx.
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.absolute(url), nil)
	if err != nil {
		return nil, 0, "", err
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, 0, "", statusError(resp)
	}
	return resp.Body, resp.ContentLength, resp.Header.Get("Content-Type"), nil
}

// Heartbeat reports the player's status and version.
func (c *Client) Heartbeat(ctx context.Context, status, appVersion string) error {
	return c.postJSON(ctx, "/v1/devices/heartbeat", map[string]any{"status": status, "app_version": appVersion}, nil)
}

// Base returns the API base URL.
func (c *Client) Base() string { return c.base }

// Token returns the device token the client authenticates with.
func (c *Client) Token() string { return c.token }

func (c *Client) absolute(u string) string {
	if strings.HasPrefix(u, "/") {
		return c.base + u
	}
	return u
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
