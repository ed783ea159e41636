// Package transport issues raw HTTP requests against the site: plain GET/POST
// calls and JSON-RPC envelopes. It applies headers and cookies, records
// metrics and optionally dumps every exchange to disk. It never retries and
// never interprets status codes.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for raw requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebackup_requests_total",
		Help: "Total requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitebackup_request_duration_seconds",
		Help:    "Request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})
)

// Transport sends requests. It is safe for concurrent use.
type Transport struct {
	httpClient *http.Client
	userAgent  string
	ids        *Sequence
	dumper     *Dumper
	logger     zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		t.userAgent = ua
	}
}

// WithSequence sets the correlation id source. Defaults to DefaultSequence.
func WithSequence(s *Sequence) Option {
	return func(t *Transport) {
		t.ids = s
	}
}

// WithDumper enables request/response dumps.
func WithDumper(d *Dumper) Option {
	return func(t *Transport) {
		t.dumper = d
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// New creates a Transport. There is no client-side request timeout: the remote
// service enforces its own (surfacing as 524).
func New(opts ...Option) *Transport {
	t := &Transport{
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		userAgent:  "sitebackup/0.1.0",
		ids:        DefaultSequence,
		logger:     log.With().Str("component", "transport").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Close closes idle keep-alive connections. In-flight requests are not
// affected.
func (t *Transport) Close() {
	t.httpClient.CloseIdleConnections()
}

// NextID returns the next correlation id.
func (t *Transport) NextID() string {
	return t.ids.Next()
}

// Send issues a plain request. GET puts Params in the query string; POST puts
// them in a form body, or a JSON body when spec.JSON is set.
func (t *Transport) Send(ctx context.Context, spec RequestSpec, verb Verb) (*Response, error) {
	target := spec.URL()
	var body []byte
	contentType := ""

	switch verb {
	case GET:
		if q := spec.Params.Encode(); q != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + q
		}
	case POST:
		if spec.JSON {
			b, err := json.Marshal(spec.Params)
			if err != nil {
				return nil, fmt.Errorf("marshal body: %w", err)
			}
			body = b
			contentType = "application/json"
		} else {
			body = []byte(spec.Params.Encode())
			contentType = "application/x-www-form-urlencoded"
		}
	default:
		return nil, fmt.Errorf("unsupported verb %q", verb)
	}

	return t.do(ctx, spec, string(verb), target, body, contentType, "")
}

// SendRPC posts spec.Method and spec.Params wrapped in a JSON-RPC envelope
// carrying the given correlation id.
func (t *Transport) SendRPC(ctx context.Context, spec RequestSpec, id string) (*Response, error) {
	env := RPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  spec.Method,
		Params:  spec.Params,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc envelope: %w", err)
	}
	return t.do(ctx, spec, http.MethodPost, spec.URL(), body, "application/json", id)
}

func (t *Transport) do(ctx context.Context, spec RequestSpec, verb, target string, body []byte, contentType, id string) (*Response, error) {
	endpoint := spec.Endpoint()
	label := spec.Label()
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, verb, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range spec.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	t.logger.Debug().
		Str("endpoint", endpoint).
		Str("verb", verb).
		Str("correlation_id", id).
		Msg("Sending request")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(label, "read_error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	requestsTotal.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()

	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   data,
	}

	if t.dumper != nil {
		t.dumper.Dump(spec, verb, id, req.Header, out)
	}

	return out, nil
}
