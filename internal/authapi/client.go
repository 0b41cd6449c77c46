// Package authapi talks to the unauthenticated auth endpoints of the backend:
// /login, /register and /refresh-token. It never touches session state; the
// caller hands the returned pair to the session manager.
package authapi

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"brewlog/internal/session/models"
	"brewlog/internal/transport/apierror"
	dErrors "brewlog/pkg/domain-errors"
	"brewlog/pkg/requestcontext"
)

const (
	pathLogin    = "/login"
	pathRegister = "/register"
	pathRefresh  = "/refresh-token"

	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default instrumented client.
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

// WithTimeout bounds every auth call, whichever HTTP client is in use.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	req := &LoginRequest{Email: email, Password: password}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return c.exchange(ctx, pathLogin, req)
}

// Register creates an account. The request is validated before any network
// call, including the password confirmation.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.TokenPair, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return c.exchange(ctx, pathRegister, &req)
}

// RefreshTokens exchanges a refresh token for a new pair. A response without
// a refresh token leaves RefreshToken empty; the session manager keeps the
// old one in that case.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if refreshToken == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "refresh token is required")
	}
	return c.exchange(ctx, pathRefresh, refreshRequest{RefreshToken: refreshToken})
}

func (c *Client) exchange(ctx context.Context, path string, body any) (*models.TokenPair, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if id := requestcontext.RequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "auth request timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeRequestFailed, "auth service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeRequestFailed, "failed to read auth response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result := apierror.Classify(resp.StatusCode, raw)
		c.logger.Debug("auth request rejected", "path", path, "status", resp.StatusCode, "outcome", result.Outcome.String())
		cause := &apierror.HTTPError{Status: resp.StatusCode, Message: result.Message, Body: raw}
		if result.Outcome == apierror.OutcomeAuthExpired {
			return nil, dErrors.Wrap(cause, dErrors.CodeUnauthorized, result.Message)
		}
		return nil, dErrors.Wrap(cause, dErrors.CodeRequestFailed, result.Message)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecode, "auth response is not valid JSON")
	}
	if tr.AccessToken == "" {
		return nil, dErrors.New(dErrors.CodeDecode, "auth response has no access_token")
	}
	return &models.TokenPair{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, nil
}
