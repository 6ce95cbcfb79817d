// Package fetch defines the network capability injected into the engine.
//
// The engine never builds its own transport; everything that touches the
// network goes through a Fetcher so tests and embedders can substitute their
// own. HTTPFetcher is the default net/http binding.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request describes a single HEAD or GET.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string

	// Timeout bounds the whole attempt; the request is aborted when it
	// expires. Zero means the fetcher's default.
	Timeout time.Duration
}

// Response is a fully-buffered response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// OK reports whether the status is a 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Header returns a response header value, empty when absent.
func (r *Response) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// StatusError reports a non-2xx response where a 2xx was required.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s returned %d", e.URL, e.Status)
}

// Fetcher is the injected fetch capability.
type Fetcher interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPFetcher is the default Fetcher backed by net/http.
type HTTPFetcher struct {
	client         *http.Client
	defaultTimeout time.Duration
	maxBodyBytes   int64
}

// HTTPOptions configures an HTTPFetcher.
type HTTPOptions struct {
	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64

	// Transport overrides the default transport when set.
	Transport http.RoundTripper
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 512 * 1024 * 1024
	}

	client := &http.Client{}
	if opts.Transport != nil {
		client.Transport = opts.Transport
	}

	return &HTTPFetcher{
		client:         client,
		defaultTimeout: opts.DefaultTimeout,
		maxBodyBytes:   opts.MaxBodyBytes,
	}
}

// Do implements Fetcher. The request is aborted when its timeout expires.
func (f *HTTPFetcher) Do(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = f.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    body,
	}, nil
}

// Get performs a GET and requires a 2xx response.
func Get(ctx context.Context, f Fetcher, url string, timeout time.Duration) (*Response, error) {
	resp, err := f.Do(ctx, Request{Method: http.MethodGet, URL: url, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &StatusError{URL: url, Status: resp.Status}
	}
	return resp, nil
}

// Head performs a HEAD and requires a 2xx response.
func Head(ctx context.Context, f Fetcher, url string, timeout time.Duration) (*Response, error) {
	resp, err := f.Do(ctx, Request{Method: http.MethodHead, URL: url, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &StatusError{URL: url, Status: resp.Status}
	}
	return resp, nil
}

// RawURL builds the content-addressable URL for a content id on an origin.
func RawURL(origin, contentID string) string {
	return strings.TrimSuffix(origin, "/") + "/raw/" + contentID
}
