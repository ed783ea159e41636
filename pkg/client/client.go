// Package client is the single entry point scrapers use to talk to the site.
// It combines the raw transport with the retry policy, and routes ad-hoc page
// and file fetches through the shared throttle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/sitebackup/pkg/ratelimit"
	"github.com/Sternrassler/sitebackup/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var remoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sitebackup_remote_errors_total",
	Help: "Total remote logical errors by RPC method",
}, []string{"method"})

// DefaultAPIPath is the JSON-RPC endpoint path.
const DefaultAPIPath = "/api/v1/api.php"

// Client is the site client.
type Client struct {
	transport *transport.Transport
	retry     RetryPolicy
	throttler *ratelimit.Throttler
	config    Config
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the site root, e.g. "https://www.example.com".
	BaseURL string

	// APIPath is the JSON-RPC path. Defaults to DefaultAPIPath.
	APIPath string

	UserAgent string

	// Session credentials. SessionID is added to JSON-RPC params as
	// "session_id" unless the call sets it; both are used for cookies.
	SessionID string
	CSRFToken string

	// APIKey is added to JSON-RPC params as "api_key" unless the call sets it.
	APIKey string

	// Cookie names used by SessionCookie.
	SessionCookieName string
	CSRFCookieName    string

	// CookieOrder is the order JSON-RPC calls send the session cookies in.
	// Ad-hoc fetches pass their own order to WithSession.
	CookieOrder CookieOrder

	Retry RetryPolicy

	// ThrottleSpacing is the minimum gap between throttled fetches. 0 disables
	// the gap.
	ThrottleSpacing time.Duration

	// Debug enables per-request dumps below DebugDir.
	Debug     bool
	DebugDir  string
	RedactKey []string

	// HTTPClient overrides the default http.Client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:           baseURL,
		APIPath:           DefaultAPIPath,
		UserAgent:         userAgent,
		SessionCookieName: "PHPSESSID",
		CSRFCookieName:    "csrf_token",
		Retry:             DefaultRetryPolicy(),
		ThrottleSpacing:   ratelimit.DefaultSpacing,
		DebugDir:          "debug",
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.APIPath == "" {
		cfg.APIPath = DefaultAPIPath
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "PHPSESSID"
	}
	if cfg.CSRFCookieName == "" {
		cfg.CSRFCookieName = "csrf_token"
	}
	if cfg.Retry.Delay < 0 {
		return nil, fmt.Errorf("retry delay must be >= 0 (got %s)", cfg.Retry.Delay)
	}
	if cfg.ThrottleSpacing < 0 {
		return nil, fmt.Errorf("throttle spacing must be >= 0 (got %s)", cfg.ThrottleSpacing)
	}

	logger := log.With().Str("component", "client").Logger()
	cfg.Retry.Logger = logger.With().Str("component", "retry").Logger()

	opts := []transport.Option{
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithLogger(logger.With().Str("component", "transport").Logger()),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, transport.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Debug {
		opts = append(opts, transport.WithDumper(transport.NewDumper(cfg.DebugDir, logger, cfg.RedactKey...)))
	}

	return &Client{
		transport: transport.New(opts...),
		retry:     cfg.Retry,
		throttler: ratelimit.NewThrottler(cfg.ThrottleSpacing, logger.With().Str("component", "throttle").Logger()),
		config:    cfg,
		logger:    logger,
	}, nil
}

// Call invokes a JSON-RPC method and decodes the result into out (which may be
// nil). A remote logical error is returned as *transport.RPCError and is
// never retried.
func (c *Client) Call(ctx context.Context, method string, params transport.Params, out any) error {
	params = withDefault(params, "session_id", c.config.SessionID)
	params = withDefault(params, "api_key", c.config.APIKey)
	spec := c.WithSession(transport.RequestSpec{
		Domain: c.config.BaseURL,
		Path:   c.config.APIPath,
		Method: method,
		Params: params,
	}, c.config.CookieOrder)
	id := c.transport.NextID()

	var env *transport.RPCResponse
	err := c.retry.Do(ctx, method, id, func(ctx context.Context) error {
		resp, err := c.transport.SendRPC(ctx, spec, id)
		if err != nil {
			return transportError(method, id, err)
		}
		if err := statusError(method, id, resp); err != nil {
			return err
		}
		env, err = transport.DecodeRPC(resp.Body)
		if err != nil {
			return &RequestError{Endpoint: method, ID: id, ErrorClass: ErrorClassFatal, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if env.Error != nil {
		env.Error.Method = method
		env.Error.ID = id
		remoteErrorsTotal.WithLabelValues(method).Inc()
		c.logger.Warn().
			Str("method", method).
			Str("correlation_id", id).
			Int("code", env.Error.Code).
			Str("message", env.Error.Message).
			Msg("Remote error")
		return env.Error
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result of %s (id %s): %w", method, id, err)
	}
	return nil
}

func withDefault(params transport.Params, key, value string) transport.Params {
	if value == "" {
		return params
	}
	if _, ok := params.Get(key); ok {
		return params
	}
	return params.With(key, value)
}

// CallResult is Call for a typed result.
func CallResult[T any](ctx context.Context, c *Client, method string, params transport.Params) (T, error) {
	var out T
	err := c.Call(ctx, method, params, &out)
	return out, err
}

// Fetch performs an ad-hoc request through the throttle and the retry policy.
// Statuses >= 400 become *RequestError; 403 matches ErrForbidden.
func (c *Client) Fetch(ctx context.Context, spec transport.RequestSpec, verb transport.Verb) (*transport.Response, error) {
	if spec.Domain == "" {
		spec.Domain = c.config.BaseURL
	}
	endpoint := spec.Endpoint()

	var resp *transport.Response
	err := c.retry.Do(ctx, endpoint, "", func(ctx context.Context) error {
		r, err := ratelimit.Throttle(ctx, c.throttler, func(ctx context.Context) (*transport.Response, error) {
			return c.transport.Send(ctx, spec, verb)
		})
		if err != nil {
			return transportError(endpoint, "", err)
		}
		if err := statusError(endpoint, "", r); err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchHTML GETs an HTML page and parses it.
func (c *Client) FetchHTML(ctx context.Context, spec transport.RequestSpec) (*goquery.Document, error) {
	resp, err := c.Fetch(ctx, spec, transport.GET)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", spec.Endpoint(), err)
	}
	return doc, nil
}

// Forbidden reports whether err is a 403 for a single resource.
func Forbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// Throttler returns the shared throttle.
func (c *Client) Throttler() *ratelimit.Throttler {
	return c.throttler
}

// Close closes the idle connections of the underlying transport.
func (c *Client) Close() error {
	c.transport.Close()
	return nil
}
