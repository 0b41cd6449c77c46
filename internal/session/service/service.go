package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TokenStore,Refresher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"brewlog/internal/platform/metrics"
	"brewlog/internal/session/models"
	"brewlog/internal/session/observer"
	"brewlog/internal/session/token"
	dErrors "brewlog/pkg/domain-errors"
	"brewlog/pkg/platform/sentinel"
	"brewlog/pkg/requestcontext"
)

// TokenStore is the durable slot for the current token pair.
type TokenStore interface {
	Load(ctx context.Context) (*models.TokenPair, error)
	Save(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}

// Refresher exchanges a refresh token for a new pair at the backend.
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*models.TokenPair, error)
}

const (
	refreshFlightKey      = "refresh"
	defaultRefreshTimeout = 10 * time.Second
	// storeWriteTimeout bounds store writes made after a refresh flight, which
	// run detached from the flight's deadline.
	storeWriteTimeout = 5 * time.Second
)

// Logout reasons, also used as metric labels.
const (
	reasonLogout         = "logout"
	reasonNoRefreshToken = "no_refresh_token"
	reasonRefreshFailed  = "refresh_failed"
	reasonRefreshInvalid = "refresh_invalid_token"
	reasonPersistFailed  = "persist_failed"
	reasonRetryRejected  = "retry_rejected"
)

// Manager owns the authoritative in-memory session. It is the only writer of
// session state and of the token store; every transition is published to the
// observer while the manager lock is held so subscribers see them in order.
type Manager struct {
	store          TokenStore
	refresher      Refresher
	observer       *observer.Observer
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	refreshTimeout time.Duration

	mu      sync.RWMutex
	session models.Session
	loaded  bool
	// gen advances on every login and collapse so a refresh that started
	// against an older session never overwrites a newer one.
	gen uint64

	flights singleflight.Group
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithObserver publishes transitions to o instead of a private observer.
func WithObserver(o *observer.Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithRefreshTimeout bounds each backend refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// New constructs a Manager with an empty session. Call Hydrate before
// rendering anything that depends on authentication.
func New(store TokenStore, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		refresher:      refresher,
		refreshTimeout: defaultRefreshTimeout,
		tracer:         otel.Tracer("brewlog/session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.observer == nil {
		m.observer = observer.New()
	}
	return m
}

// Observer returns the read model fed by this manager.
func (m *Manager) Observer() *observer.Observer {
	return m.observer
}

// Session returns a copy of the current session.
func (m *Manager) Session() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// AccessToken returns the current access token, or "" when logged out.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.AccessToken
}

// CurrentUser returns the subject of the current session.
func (m *Manager) CurrentUser() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.session.IsAuthenticated() || m.session.UserID == "" {
		return "", false
	}
	return m.session.UserID, true
}

// Hydrate restores the session from the token store at startup. Stored
// tokens that are undecodable or expired are cleared; there is no silent
// refresh here. The observer leaves the loading state when Hydrate returns,
// whatever the outcome.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		m.loaded = true
		m.publishLocked()
	}()

	pair, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		m.metrics.IncHydration("empty")
		m.setLocked(models.Session{})
		return nil
	case errors.Is(err, sentinel.ErrInvalidState):
		m.logger.Warn("stored session unreadable, clearing", "error", err)
		m.metrics.IncHydration("invalid")
		return m.collapseLocked(ctx, "hydrate_unreadable")
	case err != nil:
		m.metrics.IncHydration("error")
		m.setLocked(models.Session{})
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stored session")
	}

	claims, err := token.Decode(pair.AccessToken)
	if err != nil {
		m.logger.Warn("stored token undecodable, clearing", "error", err)
		m.metrics.IncHydration("invalid")
		return m.collapseLocked(ctx, "hydrate_invalid")
	}
	if token.IsExpired(claims, requestcontext.Now(ctx)) {
		m.logger.Info("stored token expired, clearing", "user_id", claims.Subject, "expired_at", claims.ExpiresAt)
		m.metrics.IncHydration("expired")
		return m.collapseLocked(ctx, "hydrate_expired")
	}
	if !claims.HasExpiry {
		m.logger.Debug("stored token has no expiry claim", "user_id", claims.Subject, "kind", claims.Kind)
	}

	m.metrics.IncHydration("restored")
	m.setLocked(models.NewSession(*pair, claims))
	return nil
}

// Login installs a freshly issued token pair. An access token that cannot be
// decoded still yields a populated session, flagged as unvalidated, because
// opaque tokens from older backends carry nothing to validate against; the
// next Hydrate collapses it.
func (m *Manager) Login(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" {
		return dErrors.New(dErrors.CodeValidation, "access token is required")
	}
	pair := models.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}

	next := models.Session{AccessToken: accessToken, RefreshToken: refreshToken}
	claims, err := token.Decode(accessToken)
	if err != nil {
		m.logger.Warn("login token undecodable, session is unvalidated", "error", err)
	} else {
		next = models.NewSession(pair, claims)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, accessToken, refreshToken); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist session")
	}
	m.gen++
	m.setLocked(next)
	m.logger.Info("session started", "user_id", next.UserID, "validated", next.Validated)
	return nil
}

// Logout clears the token store and the session. It is idempotent.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collapseLocked(ctx, reasonLogout)
}

// Expire collapses the session after the backend rejected a freshly
// refreshed token. It only acts if accessToken is still the current one.
func (m *Manager) Expire(ctx context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.AccessToken != accessToken {
		return nil
	}
	return m.collapseLocked(ctx, reasonRetryRejected)
}

// Refresh returns a usable access token after stale was rejected by the
// backend. Concurrent callers share one backend refresh; a caller whose stale
// token was already replaced gets the current token without a new flight.
//
// The backend call is detached from the first caller's cancellation and
// bounded by the refresh timeout, since its result is shared. Each caller can
// still stop waiting through its own ctx.
//
// Any refresh failure logs the session out and returns CodeSessionExpired.
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	m.mu.RLock()
	current := m.session.AccessToken
	m.mu.RUnlock()
	if current != "" && current != stale {
		return current, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(refreshFlightKey, func() (any, error) {
		return m.runRefresh(flightCtx, stale)
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.metrics.IncRefreshShared()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "gave up waiting for token refresh")
	}
}

func (m *Manager) runRefresh(parent context.Context, stale string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, m.refreshTimeout)
	defer cancel()
	ctx, span := m.tracer.Start(ctx, "session.refresh")
	defer span.End()

	m.mu.RLock()
	gen := m.gen
	current := m.session.AccessToken
	refreshToken := m.session.RefreshToken
	m.mu.RUnlock()

	// Another flight may have rotated the pair between the caller's check and
	// this one starting.
	if current != "" && current != stale {
		m.metrics.IncRefreshFlight("already_rotated")
		return current, nil
	}

	if refreshToken == "" {
		m.metrics.IncRefreshFlight("no_refresh_token")
		span.SetStatus(codes.Error, "no refresh token")
		return "", m.failRefresh(ctx, gen, reasonNoRefreshToken, nil)
	}

	pair, err := m.refresher.RefreshTokens(ctx, refreshToken)
	if err != nil {
		m.metrics.IncRefreshFlight("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh rejected")
		return "", m.failRefresh(ctx, gen, reasonRefreshFailed, err)
	}

	claims, err := token.Decode(pair.AccessToken)
	if err != nil {
		m.metrics.IncRefreshFlight("invalid_token")
		span.RecordError(err)
		span.SetStatus(codes.Error, "refreshed token undecodable")
		return "", m.failRefresh(ctx, gen, reasonRefreshInvalid, dErrors.Wrap(err, dErrors.CodeDecode, "refreshed token undecodable"))
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		// Logged out or logged in again while the flight was out.
		m.metrics.IncRefreshFlight("superseded")
		if m.session.IsAuthenticated() {
			return m.session.AccessToken, nil
		}
		return "", dErrors.New(dErrors.CodeSessionExpired, "session ended during refresh")
	}
	storeCtx, storeCancel := storeContext(ctx)
	defer storeCancel()
	if err := m.store.Save(storeCtx, pair.AccessToken, pair.RefreshToken); err != nil {
		m.metrics.IncRefreshFlight("persist_failed")
		span.RecordError(err)
		_ = m.collapseLocked(storeCtx, reasonPersistFailed)
		return "", dErrors.Wrap(err, dErrors.CodeSessionExpired, "session expired: refreshed tokens could not be stored")
	}

	m.metrics.IncRefreshFlight("success")
	span.SetAttributes(attribute.String("session.token_kind", string(claims.Kind)))
	m.gen++
	m.setLocked(models.NewSession(*pair, claims))
	m.logger.Info("session refreshed", "user_id", claims.Subject)
	return pair.AccessToken, nil
}

func (m *Manager) failRefresh(ctx context.Context, gen uint64, reason string, cause error) error {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		if err := m.collapseLocked(storeCtx, reason); err != nil {
			m.logger.Error("failed to clear token store after refresh failure", "error", err)
		}
	}
	m.logger.Warn("session expired", "reason", reason, "error", cause)
	if cause == nil {
		return dErrors.New(dErrors.CodeSessionExpired, "session expired")
	}
	return dErrors.Wrap(cause, dErrors.CodeSessionExpired, "session expired")
}

// storeContext detaches ctx from the flight deadline, which has usually
// passed by the time a timed-out refresh has to clear the store.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

// collapseLocked empties the session and the store. The in-memory session is
// cleared even if the store fails.
func (m *Manager) collapseLocked(ctx context.Context, reason string) error {
	wasAuthenticated := m.session.IsAuthenticated()
	m.gen++
	m.setLocked(models.Session{})
	if wasAuthenticated {
		m.metrics.IncLogout(reason)
		m.logger.Info("session cleared", "reason", reason)
	}
	if err := m.store.Clear(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear stored session")
	}
	return nil
}

func (m *Manager) setLocked(s models.Session) {
	m.session = s
	m.publishLocked()
}

func (m *Manager) publishLocked() {
	m.observer.Publish(observer.State{
		IsAuthenticated: m.session.IsAuthenticated(),
		IsLoading:       !m.loaded,
		UserID:          m.session.UserID,
	})
}
