// Package httpclient provides the outbound HTTP client shared by the
// forwarders: a pooled transport, a default timeout for requests whose
// context carries no deadline, and an injected User-Agent.
package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/openans/ansd/internal/errors"
)

const (
	// DefaultTimeout applies when the request context has no deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is sent when neither the config nor the request sets one.
	DefaultUserAgent = "ansd/1.0"

	defaultMaxIdleConns          = 32
	defaultMaxIdleConnsPerHost   = 4
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 15 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultDialKeepAlive         = 30 * time.Second
)

// Result describes one finished request. Response is nil when Err is set.
type Result struct {
	Request  *http.Request
	Response *http.Response
	Err      error
	Elapsed  time.Duration
}

// Config configures a Client. Zero values take the defaults.
type Config struct {
	Timeout   time.Duration
	UserAgent string

	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration

	// Transport replaces the pooled transport. Tests install httpmock here.
	Transport http.RoundTripper

	// Observe, if set, is called after every request.
	Observe func(Result)
}

// Client is safe for concurrent use.
type Client struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	observe   func(Result)
}

// New creates a client. cfg may be nil and is not modified.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	if c.ResponseHeaderTimeout <= 0 {
		c.ResponseHeaderTimeout = defaultResponseHeaderTimeout
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          c.MaxIdleConns,
			MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
			IdleConnTimeout:       c.IdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			ResponseHeaderTimeout: c.ResponseHeaderTimeout,
			ExpectContinueTimeout: time.Second,
		}
	}

	return &Client{
		// Timeouts are enforced per request through the context
		client:    &http.Client{Transport: transport},
		timeout:   c.Timeout,
		userAgent: c.UserAgent,
		observe:   c.Observe,
	}
}

// Timeout returns the default request timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Do sends req under ctx, adding the default timeout when ctx has no
// deadline. The caller closes the response body when err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.NewStd("httpclient: nil request")
	}

	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.observe != nil {
		c.observe(Result{Request: req, Response: resp, Err: err, Elapsed: time.Since(start)})
	}
	if err != nil {
		cancel()
		return nil, err
	}
	// The timeout covers reading the body, so it ends with Close.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Close drops idle pooled connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
