package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/httpclient"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/privacy"
)

const (
	// defaultWebhookTimeout bounds a single HTTP request
	defaultWebhookTimeout = 30 * time.Second

	// maxErrorBodySize limits how much of an error response is read
	maxErrorBodySize = 1024

	webhookUserAgent = "ansd-webhook/1.0"

	authTypeNone   = "none"
	authTypeBearer = "bearer"
	authTypeBasic  = "basic"
	authTypeCustom = "custom"
)

// WebhookEndpoint is a single webhook destination.
type WebhookEndpoint struct {
	URL     string
	Method  string // POST, PUT or PATCH
	Headers map[string]string
	Auth    WebhookAuth
}

// WebhookAuth holds endpoint credentials.
type WebhookAuth struct {
	Type   string // none, bearer, basic or custom
	Token  string
	User   string
	Pass   string
	Header string
	Value  string
}

// WebhookProvider posts events as JSON to HTTP endpoints. Endpoints are
// tried in order until one accepts the event.
type WebhookProvider struct {
	name      string
	endpoints []WebhookEndpoint
	encoding  Encoding
	transport http.RoundTripper
	client    *httpclient.Client
}

// WebhookOption customizes a WebhookProvider.
type WebhookOption func(*WebhookProvider)

// WithTransport replaces the pooled HTTP transport.
func WithTransport(rt http.RoundTripper) WebhookOption {
	return func(w *WebhookProvider) { w.transport = rt }
}

// WithEncoding selects the request body encoding. JSON is the default.
func WithEncoding(enc Encoding) WebhookOption {
	return func(w *WebhookProvider) { w.encoding = enc }
}

// NewWebhookProvider validates endpoints and creates the provider.
func NewWebhookProvider(name string, endpoints []WebhookEndpoint, opts ...WebhookOption) (*WebhookProvider, error) {
	w := &WebhookProvider{
		name:      strings.TrimSpace(name),
		endpoints: cloneEndpoints(endpoints),
		encoding:  EncodingJSON,
	}
	if w.name == "" {
		w.name = "webhook"
	}
	for _, opt := range opts {
		opt(w)
	}

	if len(w.endpoints) == 0 {
		return nil, fmt.Errorf("webhook %s: at least one endpoint is required", w.name)
	}
	for i := range w.endpoints {
		if err := validateEndpoint(&w.endpoints[i]); err != nil {
			return nil, fmt.Errorf("webhook %s: endpoint %d: %w", w.name, i, err)
		}
	}

	log := getLogger().With(logger.String("provider", w.Name()))
	w.client = httpclient.New(&httpclient.Config{
		Timeout:   defaultWebhookTimeout,
		UserAgent: webhookUserAgent,
		Transport: w.transport,
		Observe: func(r httpclient.Result) {
			fields := []logger.Field{
				logger.String("method", r.Request.Method),
				logger.String("url", privacy.RedactURL(r.Request.URL.String())),
				logger.Duration("elapsed", r.Elapsed),
			}
			if r.Err != nil {
				fields = append(fields, logger.Error(privacy.WrapError(r.Err)))
			} else {
				fields = append(fields, logger.Int("status", r.Response.StatusCode))
			}
			log.Debug("webhook request finished", fields...)
		},
	})
	return w, nil
}

func cloneEndpoints(endpoints []WebhookEndpoint) []WebhookEndpoint {
	out := slices.Clone(endpoints)
	for i := range out {
		out[i].Headers = maps.Clone(out[i].Headers)
	}
	return out
}

// validateEndpoint checks an endpoint and normalizes its method and auth type.
func validateEndpoint(ep *WebhookEndpoint) error {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", privacy.WrapError(err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.NewStd("URL host is required")
	}

	ep.Method = strings.ToUpper(strings.TrimSpace(ep.Method))
	if ep.Method == "" {
		ep.Method = http.MethodPost
	}
	if ep.Method != http.MethodPost && ep.Method != http.MethodPut && ep.Method != http.MethodPatch {
		return fmt.Errorf("method must be POST, PUT, or PATCH, got %s", ep.Method)
	}

	auth := &ep.Auth
	auth.Type = strings.ToLower(auth.Type)
	switch auth.Type {
	case "", authTypeNone:
		auth.Type = authTypeNone
	case authTypeBearer:
		if auth.Token == "" {
			return errors.NewStd("bearer auth requires token")
		}
	case authTypeBasic:
		if auth.User == "" {
			return errors.NewStd("basic auth requires user")
		}
	case authTypeCustom:
		if auth.Header == "" || strings.ContainsAny(auth.Header, "\r\n:") {
			return errors.NewStd("custom auth requires a valid header name")
		}
		if strings.ContainsAny(auth.Value, "\r\n") {
			return errors.NewStd("custom auth value contains invalid characters")
		}
	default:
		return fmt.Errorf("unsupported auth type: %s", auth.Type)
	}
	return nil
}

// Name implements Provider.
func (w *WebhookProvider) Name() string { return "webhook:" + w.name }

// Send implements Provider.
func (w *WebhookProvider) Send(ctx context.Context, ev *Event) error {
	payload, err := w.encoding.Marshal(ev)
	if err != nil {
		return permanent(fmt.Errorf("failed to build webhook payload: %w", err))
	}

	start := time.Now()
	errs := make([]error, 0, len(w.endpoints))
	allPermanent := true
	for i := range w.endpoints {
		endpoint := &w.endpoints[i]

		err := w.sendToEndpoint(ctx, endpoint, payload)
		if err == nil {
			return nil
		}

		var perr *ProviderError
		if !errors.As(err, &perr) || perr.Retryable {
			allPermanent = false
		}
		errs = append(errs, fmt.Errorf("endpoint %d (%s): %w", i, privacy.RedactURL(endpoint.URL), err))

		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled while sending webhook: %w", ctx.Err())
		}
	}

	err = errors.New(fmt.Errorf("all webhook endpoints failed: %w", errors.Join(errs...))).
		Component("forward").
		Category(errors.CategoryWebhook).
		Context("provider", w.name).
		Context("endpoints", len(w.endpoints)).
		NetworkContext(w.endpoints[0].URL, w.client.Timeout()).
		Timing("webhook_send", time.Since(start)).
		Build()
	if allPermanent {
		return permanent(err)
	}
	return err
}

func (w *WebhookProvider) sendToEndpoint(ctx context.Context, endpoint *WebhookEndpoint, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return permanent(fmt.Errorf("failed to create request: %w", privacy.WrapError(err)))
	}

	req.Header.Set("Content-Type", w.encoding.ContentType())
	for key, value := range endpoint.Headers {
		req.Header.Set(key, value)
	}
	applyWebhookAuth(req, &endpoint.Auth)

	resp, err := w.client.Do(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("request cancelled: %w", err)
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("request timed out: %w", err)
		default:
			return fmt.Errorf("request failed: %w", privacy.WrapError(err))
		}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	httpErr := fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if isPermanentStatus(resp.StatusCode) {
		return permanent(httpErr)
	}
	return httpErr
}

// isPermanentStatus reports client errors that a retry will not fix.
func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

func applyWebhookAuth(req *http.Request, auth *WebhookAuth) {
	switch auth.Type {
	case authTypeBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case authTypeBasic:
		req.SetBasicAuth(auth.User, auth.Pass)
	case authTypeCustom:
		req.Header.Set(auth.Header, auth.Value)
	}
}

// Close implements Provider.
func (w *WebhookProvider) Close() error {
	w.client.Close()
	return nil
}
