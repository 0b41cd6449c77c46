package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"brewlog/internal/session/observer"
	"brewlog/pkg/platform/httputil"
)

const keepAliveInterval = 25 * time.Second

//go:generate mockgen -source=handlers_session.go -destination=mocks/session-mocks.go -package=mocks SessionController

// SessionController is the write side the status API may drive.
type SessionController interface {
	Logout(ctx context.Context) error
}

// SessionHandler exposes the session read model: a snapshot, a server-sent
// event stream of transitions and a logout action.
type SessionHandler struct {
	observer *observer.Observer
	control  SessionController
	logger   *slog.Logger
}

func NewSessionHandler(obs *observer.Observer, control SessionController, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{observer: obs, control: control, logger: logger}
}

func (h *SessionHandler) Register(r chi.Router) {
	r.Get("/session", h.handleSnapshot)
	r.Get("/session/events", h.handleEvents)
	r.Post("/session/logout", h.handleLogout)
}

func (h *SessionHandler) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.observer.Snapshot())
}

func (h *SessionHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.control.Logout(r.Context()); err != nil {
		h.logger.Error("logout via status api failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.observer.Snapshot())
}

// handleEvents streams the current state, then every transition, as SSE
// "session" events until the client goes away. A slow client only ever sees
// the latest state; intermediate transitions may be coalesced.
func (h *SessionHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	updates := make(chan observer.State, 1)
	unsubscribe := h.observer.Subscribe(func(st observer.State) {
		offerLatest(updates, st)
	})
	defer unsubscribe()

	if err := writeEvent(w, rc, h.observer.Snapshot()); err != nil {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-updates:
			if err := writeEvent(w, rc, st); err != nil {
				h.logger.Debug("session event stream closed", "error", err)
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// offerLatest replaces any undelivered state with st. Subscribers run under
// the session manager's lock, so this never blocks.
func offerLatest(ch chan observer.State, st observer.State) {
	for {
		select {
		case ch <- st:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, st observer.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return rc.Flush()
}
