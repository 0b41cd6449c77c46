package httptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"brewlog/internal/platform/logger"
	"brewlog/internal/platform/metrics"
	"brewlog/internal/session/observer"
	"brewlog/internal/session/service"
	"brewlog/internal/session/store"
	"brewlog/internal/transport/http/mocks"
	dErrors "brewlog/pkg/domain-errors"
	"brewlog/pkg/testutil"
)

type SessionHandlerSuite struct {
	suite.Suite
	ctx      context.Context
	manager  *service.Manager
	registry *prometheus.Registry
	router   http.Handler
	server   *httptest.Server
}

func TestSessionHandlerSuite(t *testing.T) {
	suite.Run(t, new(SessionHandlerSuite))
}

func (s *SessionHandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func (s *SessionHandlerSuite) SetupTest() {
	s.registry = prometheus.NewRegistry()
	s.manager = service.New(store.NewInMemory(), nil,
		service.WithLogger(logger.Discard()),
		service.WithMetrics(metrics.New(s.registry)),
	)
	h := NewSessionHandler(s.manager.Observer(), s.manager, logger.Discard())
	s.router = NewRouter(h, s.registry, logger.Discard())
	s.server = httptest.NewServer(s.router)
	s.T().Cleanup(s.server.Close)
}

func (s *SessionHandlerSuite) TestSnapshot() {
	s.T().Run("loading until hydrated", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/session"))
		testutil.AssertStatus(t, rr, http.StatusOK)

		st := testutil.DecodeJSON[observer.State](t, rr)
		assert.True(t, st.IsLoading)
		assert.False(t, st.IsAuthenticated)
	})

	s.T().Run("mirrors the session afterwards", func(t *testing.T) {
		require.NoError(t, s.manager.Hydrate(s.ctx))
		require.NoError(t, s.manager.Login(s.ctx, "token_42", ""))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/session"))
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.Equal(t, observer.State{IsAuthenticated: true, UserID: "42"}, testutil.DecodeJSON[observer.State](t, rr))
	})
}

func (s *SessionHandlerSuite) TestLogout() {
	require.NoError(s.T(), s.manager.Hydrate(s.ctx))
	require.NoError(s.T(), s.manager.Login(s.ctx, "token_42", ""))

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/session/logout", nil))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.Equal(observer.State{}, testutil.DecodeJSON[observer.State](s.T(), rr))
	s.False(s.manager.Session().IsAuthenticated())
}

func (s *SessionHandlerSuite) TestMethodNotAllowed() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodDelete, "/session"))
	testutil.AssertStatus(s.T(), rr, http.StatusMethodNotAllowed)
}

func (s *SessionHandlerSuite) TestLogoutFailure() {
	ctrl := gomock.NewController(s.T())
	control := mocks.NewMockSessionController(ctrl)
	control.EXPECT().Logout(gomock.Any()).
		Return(dErrors.Wrap(errors.New("read-only fs"), dErrors.CodeInternal, "failed to clear stored session"))

	h := NewSessionHandler(observer.New(), control, logger.Discard())
	router := NewRouter(h, prometheus.NewRegistry(), logger.Discard())

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/session/logout", nil))

	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
	body := testutil.DecodeJSON[map[string]string](s.T(), rr)
	s.Equal("internal_error", body["error"])
	s.NotContains(body, "error_description")
}

func (s *SessionHandlerSuite) TestEventsStreamTransitions() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server.URL+"/session/events", nil)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp.Body)

	first := <-events
	s.True(first.IsLoading)

	s.Require().NoError(s.manager.Hydrate(s.ctx))
	s.Equal(observer.State{}, <-events)

	s.Require().NoError(s.manager.Login(s.ctx, "token_7", ""))
	s.Equal(observer.State{IsAuthenticated: true, UserID: "7"}, <-events)
}

func readEvents(r io.Reader) <-chan observer.State {
	out := make(chan observer.State, 8)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			data, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var st observer.State
			if err := json.Unmarshal([]byte(data), &st); err != nil {
				return
			}
			out <- st
		}
	}()
	return out
}

func (s *SessionHandlerSuite) TestHealthAndMetrics() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	s.Require().NoError(s.manager.Hydrate(s.ctx))
	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.Contains(rr.Body.String(), "brewlog_session_hydrations_total")
}

func TestOfferLatestKeepsNewest(t *testing.T) {
	ch := make(chan observer.State, 1)
	offerLatest(ch, observer.State{IsLoading: true})
	offerLatest(ch, observer.State{UserID: "1", IsAuthenticated: true})

	assert.Equal(t, observer.State{UserID: "1", IsAuthenticated: true}, <-ch)
	assert.Empty(t, ch)
}
