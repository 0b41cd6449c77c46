// Package client issues authenticated calls to the brew log API.
//
// Every call follows the same protocol: attach the current access token, and
// if the backend reports it expired, ask the session manager for a refreshed
// token (one shared refresh for all concurrent callers) and retry exactly
// once. A second expiry on the retried attempt ends the session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"brewlog/internal/platform/metrics"
	"brewlog/internal/transport/apierror"
	dErrors "brewlog/pkg/domain-errors"
	"brewlog/pkg/requestcontext"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxResponseBytes      = 4 << 20

	headerRequestID = "X-Request-ID"
)

// Session is the slice of the session manager the client needs.
// *service.Manager satisfies it.
type Session interface {
	AccessToken() string
	Refresh(ctx context.Context, stale string) (string, error)
	Expire(ctx context.Context, accessToken string) error
}

type Client struct {
	baseURL        string
	http           *http.Client
	session        Session
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	requestTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRequestTimeout bounds each attempt separately; a retried call may take
// up to twice this plus the refresh.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func New(baseURL string, session Session, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		session:        session,
		requestTimeout: defaultRequestTimeout,
		tracer:         otel.Tracer("brewlog/client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

type callOptions struct {
	method      string
	body        []byte
	contentType string
	headers     http.Header
	requireAuth bool
	err         error
}

type CallOption func(*callOptions)

func WithMethod(method string) CallOption {
	return func(o *callOptions) {
		o.method = method
	}
}

// WithJSONBody encodes v once; the same bytes are sent on a retry.
func WithJSONBody(v any) CallOption {
	return func(o *callOptions) {
		raw, err := json.Marshal(v)
		if err != nil {
			o.err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode request body")
			return
		}
		o.body = raw
		o.contentType = "application/json"
	}
}

// WithBody sends body verbatim, e.g. a multipart form.
func WithBody(contentType string, body []byte) CallOption {
	return func(o *callOptions) {
		o.body = body
		o.contentType = contentType
	}
}

func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		o.headers.Set(key, value)
	}
}

// RequireAuth fails the call without a network round trip when no session
// is held. Without it, a call with no token goes out unauthenticated and the
// backend decides.
func RequireAuth() CallOption {
	return func(o *callOptions) {
		o.requireAuth = true
	}
}

// Call performs one logical call and returns the raw JSON of a 2xx response
// (nil for an empty body). Errors carry CodeRequestFailed (wrapping
// *apierror.HTTPError), CodeSessionExpired, CodeTimeout or CodeDecode.
func (c *Client) Call(ctx context.Context, endpoint string, opts ...CallOption) (json.RawMessage, error) {
	co := callOptions{method: http.MethodGet, headers: make(http.Header)}
	for _, opt := range opts {
		opt(&co)
	}
	if co.err != nil {
		return nil, co.err
	}

	ctx, span := c.tracer.Start(ctx, "client.call", trace.WithAttributes(
		attribute.String("http.method", co.method),
		attribute.String("brewlog.endpoint", endpoint),
	))
	defer span.End()

	token := c.session.AccessToken()
	if co.requireAuth && token == "" {
		span.SetStatus(codes.Error, "no session")
		return nil, dErrors.New(dErrors.CodeSessionExpired, "not signed in")
	}

	retried := false
	for {
		res, err := c.attempt(ctx, endpoint, &co, token)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport failure")
			return nil, err
		}
		if res.ok {
			return res.body, nil
		}

		if res.class.Outcome != apierror.OutcomeAuthExpired {
			span.SetStatus(codes.Error, res.class.Message)
			cause := &apierror.HTTPError{Status: res.status, Message: res.class.Message, Body: res.raw}
			return nil, dErrors.Wrap(cause, dErrors.CodeRequestFailed, res.class.Message)
		}

		if retried {
			c.logger.Warn("refreshed token rejected, ending session", "endpoint", endpoint, "status", res.status)
			span.SetStatus(codes.Error, "session expired after retry")
			if err := c.session.Expire(ctx, token); err != nil {
				c.logger.Error("failed to clear session", "error", err)
			}
			return nil, dErrors.New(dErrors.CodeSessionExpired, "session expired")
		}

		c.logger.Debug("access token rejected, refreshing", "endpoint", endpoint, "status", res.status)
		fresh, err := c.session.Refresh(ctx, token)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
			return nil, err
		}
		c.metrics.IncRetry()
		span.AddEvent("retry after refresh")
		token = fresh
		retried = true
	}
}

type attemptResult struct {
	ok     bool
	status int
	body   json.RawMessage
	raw    []byte
	class  apierror.Result
}

func (c *Client) attempt(ctx context.Context, endpoint string, co *callOptions, token string) (attemptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if co.body != nil {
		body = bytes.NewReader(co.body)
	}
	req, err := http.NewRequestWithContext(ctx, co.method, c.baseURL+endpoint, body)
	if err != nil {
		return attemptResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build request")
	}
	for k, vs := range co.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if co.contentType != "" {
		req.Header.Set("Content-Type", co.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	requestID := requestcontext.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(headerRequestID, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveAttempt(co.method, "transport_error", time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return attemptResult{}, dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
		}
		return attemptResult{}, dErrors.Wrap(err, dErrors.CodeRequestFailed, "backend unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.ObserveAttempt(co.method, "transport_error", time.Since(start).Seconds())
		return attemptResult{}, dErrors.Wrap(err, dErrors.CodeRequestFailed, "failed to read response")
	}

	res := attemptResult{status: resp.StatusCode, raw: raw}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		c.metrics.ObserveAttempt(co.method, "success", time.Since(start).Seconds())
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			res.ok = true
			return res, nil
		}
		if !json.Valid(trimmed) {
			return attemptResult{}, dErrors.New(dErrors.CodeDecode, "response is not valid JSON")
		}
		res.ok = true
		res.body = json.RawMessage(trimmed)
		return res, nil
	}

	res.class = apierror.Classify(resp.StatusCode, raw)
	c.metrics.ObserveAttempt(co.method, res.class.Outcome.String(), time.Since(start).Seconds())
	c.logger.Debug("request failed",
		"method", co.method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"outcome", res.class.Outcome.String(),
		"request_id", requestID,
	)
	return res, nil
}

// CallJSON performs Call and decodes the response into T. An empty response
// yields the zero value.
func CallJSON[T any](ctx context.Context, c *Client, endpoint string, opts ...CallOption) (T, error) {
	var out T
	raw, err := c.Call(ctx, endpoint, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeDecode, "unexpected response shape")
	}
	return out, nil
}
