package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/app-installer/internal/domain"
	"github.com/vertextoedge/app-installer/internal/port"
)

var (
	ErrForbidden   = domain.ErrForbidden
	ErrServerError = errors.New("server error")
	ErrThrottled   = errors.New("server busy")
	ErrBadStatus   = errors.New("unexpected status code")
)

// DefaultUserAgent is sent when no user agent is configured
const DefaultUserAgent = "app-installer/1.0"

// Client fetches module payloads over HTTP
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Ensure Client implements port.Source
var _ port.Source = (*Client)(nil)

// ClientConfig contains optional client configuration
type ClientConfig struct {
	UserAgent       string
	BufferSizeKB    int           // Transport read/write buffer size (default: 64)
	HeaderTimeout   time.Duration // Response header timeout (default: 30s)
	MaxConnsPerHost int           // default: 10
}

// NewClient creates a client with a long-lived download transport
func NewClient(cfg *ClientConfig) *Client {
	bufferSize := 64 * 1024
	headerTimeout := 30 * time.Second
	maxConns := 10
	userAgent := DefaultUserAgent
	if cfg != nil {
		if cfg.BufferSizeKB > 0 {
			bufferSize = cfg.BufferSizeKB * 1024
		}
		if cfg.HeaderTimeout > 0 {
			headerTimeout = cfg.HeaderTimeout
		}
		if cfg.MaxConnsPerHost > 0 {
			maxConns = cfg.MaxConnsPerHost
		}
		if cfg.UserAgent != "" {
			userAgent = cfg.UserAgent
		}
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     120 * time.Second,

		WriteBufferSize: bufferSize,
		ReadBufferSize:  bufferSize,

		ForceAttemptHTTP2: true,

		// Payloads are already compressed archives or executables
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: headerTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   0, // bounded per attempt by the caller's context
		},
		userAgent: userAgent,
	}
}

// NewClientWithHTTP wraps an existing http.Client
func NewClientWithHTTP(hc *http.Client, userAgent string) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{httpClient: hc, userAgent: userAgent}
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// Probe determines the payload size with a HEAD request, falling back to a
// zero-length ranged GET when HEAD is unsupported or reports no length
func (c *Client) Probe(ctx context.Context, url string) (*port.RemoteInfo, error) {
	info, err := c.head(ctx, url)
	if err == nil && info.Size >= 0 {
		return info, nil
	}
	if err != nil && !errors.Is(err, errHeadUnsupported) {
		return nil, err
	}
	return c.probeRange(ctx, url)
}

var errHeadUnsupported = errors.New("head not supported")

func (c *Client) head(ctx context.Context, url string) (*port.RemoteInfo, error) {
	req, err := c.newRequest(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head request failed: %w", err)
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return nil, errHeadUnsupported
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	// A missing Accept-Ranges header does not rule out ranged requests
	return &port.RemoteInfo{
		Size:          resp.ContentLength,
		AcceptsRanges: resp.Header.Get("Accept-Ranges") != "none",
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

func (c *Client) probeRange(ctx context.Context, url string) (*port.RemoteInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range probe failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	info := &port.RemoteInfo{Size: -1, ETag: cleanETag(resp.Header.Get("ETag"))}
	if resp.StatusCode == http.StatusPartialContent {
		info.AcceptsRanges = true
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil {
			info.Size = total
		}
		return info, nil
	}

	// Server ignored the range; the body is the whole payload
	info.Size = resp.ContentLength
	return info, nil
}

// Open starts streaming url from offset
func (c *Client) Open(ctx context.Context, url string, offset int64) (*port.RemoteBody, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	partial := resp.StatusCode == http.StatusPartialContent
	if partial && offset > 0 {
		start, _, _, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && start != offset {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: range starts at %d, requested %d", ErrBadStatus, start, offset)
		}
	}

	return &port.RemoteBody{
		Body:    resp.Body,
		Partial: partial,
		Length:  resp.ContentLength,
	}, nil
}

// checkStatus classifies a response status. Throttling responses carry the
// server's Retry-After hint as a *domain.RetryableError.
func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK || code == http.StatusPartialContent:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		after := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return domain.NewRetryableError(fmt.Errorf("%w: status %d", ErrThrottled, code), after)
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: status %d", domain.ErrNotFound, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrForbidden, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrServerError, code)
	default:
		return fmt.Errorf("%w: %d", ErrBadStatus, code)
	}
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. It returns 0 when the value is missing or unusable.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// ParseContentRange parses a Content-Range header value.
// Format: "bytes start-end/total"; total may be "*" in which case -1 is returned.
func ParseContentRange(header string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	rng, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	from, to, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	if start, err = strconv.ParseInt(from, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if end, err = strconv.ParseInt(to, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	if size == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range total: %w", err)
	}
	return start, end, total, nil
}
