package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher performs live network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// maxBodySize caps buffered response bodies.
const maxBodySize = 32 << 20

// ErrBodyTooLarge is returned by Fetch when the origin response exceeds
// maxBodySize. The response is discarded, never cached.
var ErrBodyTooLarge = errors.New("response body too large")

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream fetches requests from the origin server.
type Upstream struct {
	base   *url.URL
	client *http.Client
}

// NewUpstream creates a fetcher for the origin at baseURL.
func NewUpstream(baseURL string, timeout time.Duration) (*Upstream, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Upstream{
		base: u,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Fetch forwards req to the origin and buffers the response.
func (u *Upstream) Fetch(ctx context.Context, req *Request) (*Response, error) {
	target := u.base.String() + req.URL
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := u.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", req.Method, req.URL, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("read %s %s: %w (limit %d bytes)", req.Method, req.URL, ErrBodyTooLarge, maxBodySize)
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Length")

	return &Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   data,
		Source: SourceNetwork,
	}, nil
}
