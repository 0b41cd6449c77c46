// Package backend is an in-process fake of the brew log API for tests. It
// issues real signed tokens, enforces bearer auth on the record endpoints and
// exposes knobs to simulate expiry, refresh failure and slow refreshes.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"brewlog/pkg/platform/httputil"
	"brewlog/pkg/testutil"
)

// ExpiryStyle selects how an expired or unknown token is rejected.
type ExpiryStyle int

const (
	// ExpiryJSON answers 401 with {"error", "code": "TOKEN_EXPIRED"}.
	ExpiryJSON ExpiryStyle = iota
	// ExpiryPlainText answers 403 with an HTML-ish body mentioning the expiry,
	// the way a proxy in front of the API would.
	ExpiryPlainText
	// ExpiryBare answers 401 with an empty body.
	ExpiryBare
)

// Request is one request as seen by the backend.
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ImageURL  string    `json:"image_url"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UserName  string    `json:"user_name,omitempty"`
}

type user struct {
	id       string
	email    string
	password string
	name     string
}

type Backend struct {
	server *httptest.Server

	mu            sync.Mutex
	users         map[string]*user // by email
	accessTokens  map[string]string
	refreshTokens map[string]string
	records       []Record
	requests      []Request

	accessTTL      time.Duration
	refreshDelay   time.Duration
	failRefresh    bool
	rejectAll      bool
	rotateRefresh  bool
	expiryStyle    ExpiryStyle
	refreshCalls   atomic.Int64
	protectedCalls atomic.Int64
}

type Option func(*Backend)

// WithAccessTTL sets the exp claim of minted access tokens.
func WithAccessTTL(d time.Duration) Option {
	return func(b *Backend) {
		b.accessTTL = d
	}
}

// WithRefreshDelay holds every /refresh-token response for d.
func WithRefreshDelay(d time.Duration) Option {
	return func(b *Backend) {
		b.refreshDelay = d
	}
}

func WithExpiryStyle(style ExpiryStyle) Option {
	return func(b *Backend) {
		b.expiryStyle = style
	}
}

// WithoutRefreshRotation keeps the refresh token unchanged and omits it from
// /refresh-token responses.
func WithoutRefreshRotation() Option {
	return func(b *Backend) {
		b.rotateRefresh = false
	}
}

// New starts the fake and registers its shutdown with t.
func New(t testing.TB, opts ...Option) *Backend {
	t.Helper()
	b := &Backend{
		users:         make(map[string]*user),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		accessTTL:     15 * time.Minute,
		rotateRefresh: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.server = httptest.NewServer(b.router())
	t.Cleanup(b.server.Close)
	return b
}

// URL is the API base to hand to clients.
func (b *Backend) URL() string {
	return b.server.URL
}

func (b *Backend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.recordRequest)

	r.Post("/login", b.handleLogin)
	r.Post("/register", b.handleRegister)
	r.Post("/refresh-token", b.handleRefresh)
	r.Get("/all-beers", b.handleAllRecords)
	r.Get("/leaderboard", b.handleLeaderboard)

	r.Group(func(r chi.Router) {
		r.Use(b.requireBearer)
		r.Get("/my-beers", b.handleMyRecords)
		r.Post("/beers", b.handleCreateRecord)
		r.Delete("/beers/{id}", b.handleDeleteRecord)
	})
	return r
}

// AddUser creates an account and returns its id.
func (b *Backend) AddUser(email, password, name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(email, password, name).id
}

func (b *Backend) addUserLocked(email, password, name string) *user {
	u := &user{id: uuid.NewString(), email: email, password: password, name: name}
	b.users[email] = u
	return u
}

// IssueTokens mints a pair for userID without going through /login.
func (b *Backend) IssueTokens(t testing.TB, userID string) (access, refresh string) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	access, refresh, err := b.issueLocked(userID)
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	return access, refresh
}

// issueLocked mints a signed access token and an opaque refresh token. The
// jti claim keeps two tokens minted within the same second distinct.
func (b *Backend) issueLocked(userID string) (string, string, error) {
	now := time.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(b.accessTTL).Unix(),
		"jti": uuid.NewString(),
	}).SignedString([]byte(testutil.SigningKey))
	if err != nil {
		return "", "", err
	}
	refresh := "refresh_" + uuid.NewString()
	b.accessTokens[access] = userID
	b.refreshTokens[refresh] = userID
	return access, refresh, nil
}

// RevokeAccessTokens makes every outstanding access token look expired.
func (b *Backend) RevokeAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessTokens = make(map[string]string)
}

// SetFailRefresh makes /refresh-token reject every refresh token.
func (b *Backend) SetFailRefresh(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRefresh = fail
}

// SetRejectAll makes the protected endpoints reject every token, including
// freshly refreshed ones.
func (b *Backend) SetRejectAll(reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAll = reject
}

// RefreshCalls counts requests to /refresh-token.
func (b *Backend) RefreshCalls() int {
	return int(b.refreshCalls.Load())
}

// ProtectedCalls counts requests to bearer-protected endpoints.
func (b *Backend) ProtectedCalls() int {
	return int(b.protectedCalls.Load())
}

// Requests returns every request received so far, in arrival order.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// Records returns the stored records.
func (b *Backend) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// AddRecord stores a record owned by userID.
func (b *Backend) AddRecord(userID, note string, createdAt time.Time) Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		ImageURL:  placeholderImage,
		Note:      note,
		CreatedAt: createdAt.UTC(),
	}
	b.records = append(b.records, rec)
	return rec
}

const placeholderImage = "https://via.placeholder.com/300x200/0ea5e9/ffffff?text=Beer"

func (b *Backend) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		b.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type ctxUserKey struct{}

func contextWithUser(r *http.Request, userID string) context.Context {
	return context.WithValue(r.Context(), ctxUserKey{}, userID)
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(ctxUserKey{}).(string)
	return userID
}

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.protectedCalls.Add(1)
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token", "")
			return
		}

		b.mu.Lock()
		userID, known := b.accessTokens[raw]
		reject := b.rejectAll
		b.mu.Unlock()

		if reject || !known || !validSignature(raw) {
			b.writeExpired(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r, userID)))
	})
}

func validSignature(raw string) bool {
	_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(testutil.SigningKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil
}

func (b *Backend) writeExpired(w http.ResponseWriter) {
	b.mu.Lock()
	style := b.expiryStyle
	b.mu.Unlock()

	switch style {
	case ExpiryPlainText:
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<html><body>Session expired, please sign in again</body></html>")
	case ExpiryBare:
		w.WriteHeader(http.StatusUnauthorized)
	default:
		writeJSONError(w, http.StatusUnauthorized, "Token has expired", "TOKEN_EXPIRED")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	httputil.WriteJSON(w, status, body)
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[req.Email]
	if !ok || u.password != req.Password {
		// FastAPI-style body.
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}
	access, refresh, err := b.issueLocked(u.id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": refresh})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[req.Email]; exists {
		writeJSONError(w, http.StatusBadRequest, "User already registered", "")
		return
	}
	u := b.addUserLocked(req.Email, req.Password, req.Name)
	access, refresh, err := b.issueLocked(u.id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"access_token": access, "refresh_token": refresh})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "refresh_token is required", "")
		return
	}

	b.mu.Lock()
	delay := b.refreshDelay
	b.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	userID, ok := b.refreshTokens[req.RefreshToken]
	if b.failRefresh || !ok {
		writeJSONError(w, http.StatusUnauthorized, "Invalid refresh token", "")
		return
	}

	access, refresh, err := b.issueLocked(userID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	body := map[string]string{"access_token": access}
	if b.rotateRefresh {
		delete(b.refreshTokens, req.RefreshToken)
		body["refresh_token"] = refresh
	} else {
		delete(b.refreshTokens, refresh)
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (b *Backend) handleMyRecords(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []Record{}
	for _, rec := range b.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (b *Backend) handleAllRecords(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, len(b.records))
	for _, rec := range b.records {
		rec.UserName = b.nameOfLocked(rec.UserID)
		out = append(out, rec)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (b *Backend) nameOfLocked(userID string) string {
	for _, u := range b.users {
		if u.id == userID {
			return u.name
		}
	}
	return ""
}

func (b *Backend) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	note, err := readNote(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if len(note) > 250 {
		writeJSONError(w, http.StatusBadRequest, "Note too long (max 250 characters)", "")
		return
	}
	rec := b.AddRecord(userFrom(r), note, time.Now())
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Beer posted successfully",
		"beer_id": rec.ID,
	})
}

func readNote(r *http.Request) (string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", errors.New("unsupported content type")
	}
	var note string
	switch mediaType {
	case "application/json":
		var req struct {
			Note string `json:"note"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", errors.New("invalid JSON body")
		}
		note = req.Note
	case "multipart/form-data":
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			return "", errors.New("invalid multipart body")
		}
		note = r.FormValue("note")
	default:
		return "", errors.New("unsupported content type")
	}
	if note == "" {
		return "", errors.New("missing note field")
	}
	return note, nil
}

func (b *Backend) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := userFrom(r)

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, rec := range b.records {
		if rec.ID == id && rec.UserID == userID {
			b.records = append(b.records[:i], b.records[i+1:]...)
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Beer deleted successfully"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "Beer not found or not owned by user"})
}

func (b *Backend) handleLeaderboard(w http.ResponseWriter, _ *http.Request) {
	type month struct {
		Month       string `json:"month"`
		TotalDrinks int    `json:"total_drinks"`
	}
	type entry struct {
		UserName    string  `json:"user_name"`
		MonthlyData []month `json:"monthly_data"`
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[string]map[string]int)
	var order []string
	for _, rec := range b.records {
		name := b.nameOfLocked(rec.UserID)
		if _, ok := counts[name]; !ok {
			counts[name] = make(map[string]int)
			order = append(order, name)
		}
		counts[name][rec.CreatedAt.Format("2006-01")]++
	}

	out := make([]entry, 0, len(order))
	for _, name := range order {
		e := entry{UserName: name}
		for m, n := range counts[name] {
			e.MonthlyData = append(e.MonthlyData, month{Month: m, TotalDrinks: n})
		}
		out = append(out, e)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
