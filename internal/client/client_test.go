package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"brewlog/internal/authapi"
	"brewlog/internal/client"
	"brewlog/internal/platform/logger"
	"brewlog/internal/platform/metrics"
	"brewlog/internal/session/service"
	"brewlog/internal/session/store"
	"brewlog/internal/transport/apierror"
	dErrors "brewlog/pkg/domain-errors"
	"brewlog/pkg/platform/sentinel"
	"brewlog/pkg/requestcontext"
	"brewlog/pkg/testutil"
	"brewlog/pkg/testutil/backend"
)

type ClientSuite struct {
	suite.Suite
	backend *backend.Backend
	store   *store.InMemoryStore
	metrics *metrics.Metrics
	manager *service.Manager
	client  *client.Client
	userID  string
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.setup()
}

func (s *ClientSuite) setup(opts ...backend.Option) {
	s.backend = backend.New(s.T(), opts...)
	s.userID = s.backend.AddUser("ada@example.com", "hunter22", "Ada")
	s.store = store.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.manager = service.New(s.store, authapi.New(s.backend.URL(), authapi.WithLogger(logger.Discard())),
		service.WithLogger(logger.Discard()),
		service.WithMetrics(s.metrics),
	)
	s.client = client.New(s.backend.URL(), s.manager,
		client.WithLogger(logger.Discard()),
		client.WithMetrics(s.metrics),
	)
	s.Require().NoError(s.manager.Hydrate(context.Background()))
}

func (s *ClientSuite) signIn() string {
	access, refresh := s.backend.IssueTokens(s.T(), s.userID)
	s.Require().NoError(s.manager.Login(context.Background(), access, refresh))
	return access
}

func (s *ClientSuite) requestsTo(path string) []backend.Request {
	var out []backend.Request
	for _, r := range s.backend.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *ClientSuite) assertLoggedOut() {
	s.False(s.manager.Observer().Snapshot().IsAuthenticated)
	_, err := s.store.Load(context.Background())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *ClientSuite) TestAuthenticatedCallAttachesHeaders() {
	access := s.signIn()
	s.backend.AddRecord(s.userID, "stout", time.Now())

	records, err := s.client.MyRecords(context.Background())
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("stout", records[0].Note)

	reqs := s.requestsTo("/my-beers")
	s.Require().Len(reqs, 1)
	s.Equal("Bearer "+access, reqs[0].Authorization)
	s.NotEmpty(reqs[0].RequestID)
}

func (s *ClientSuite) TestPinnedRequestID() {
	s.signIn()
	ctx := requestcontext.WithRequestID(context.Background(), "ui-click-17")

	_, err := s.client.MyRecords(ctx)
	s.Require().NoError(err)
	s.Equal("ui-click-17", s.requestsTo("/my-beers")[0].RequestID)
}

func (s *ClientSuite) TestExpiredTokenIsRefreshedAndRetriedOnce() {
	cases := []struct {
		name  string
		style backend.ExpiryStyle
	}{
		{name: "structured expiry code", style: backend.ExpiryJSON},
		{name: "plain text expiry page", style: backend.ExpiryPlainText},
		{name: "bare unauthorized", style: backend.ExpiryBare},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.setup(backend.WithExpiryStyle(tc.style))
			old := s.signIn()
			s.backend.RevokeAccessTokens()

			_, err := s.client.MyRecords(context.Background())
			s.Require().NoError(err)

			s.Equal(1, s.backend.RefreshCalls())
			reqs := s.requestsTo("/my-beers")
			s.Require().Len(reqs, 2)
			s.Equal("Bearer "+old, reqs[0].Authorization)
			s.Equal("Bearer "+s.manager.AccessToken(), reqs[1].Authorization)
			s.NotEqual(reqs[0].RequestID, reqs[1].RequestID)
			s.Equal(1.0, promtest.ToFloat64(s.metrics.RequestRetries))
		})
	}
}

func (s *ClientSuite) TestConcurrentExpiriesShareOneRefresh() {
	const callers = 6
	s.setup(backend.WithRefreshDelay(100 * time.Millisecond))
	old := s.signIn()
	s.backend.RevokeAccessTokens()

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := s.client.MyRecords(context.Background())
			return err
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(1, s.backend.RefreshCalls())
	fresh := "Bearer " + s.manager.AccessToken()
	for _, r := range s.requestsTo("/my-beers") {
		if r.Authorization != "Bearer "+old {
			s.Equal(fresh, r.Authorization)
		}
	}
	s.True(s.manager.Observer().Snapshot().IsAuthenticated)
}

func (s *ClientSuite) TestSecondExpiryEndsSession() {
	s.signIn()
	s.backend.SetRejectAll(true)

	_, err := s.client.MyRecords(context.Background())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))

	s.Len(s.requestsTo("/my-beers"), 2)
	s.Equal(1, s.backend.RefreshCalls())
	s.assertLoggedOut()
}

func (s *ClientSuite) TestRefreshFailureForcesLogout() {
	s.signIn()
	s.backend.RevokeAccessTokens()
	s.backend.SetFailRefresh(true)

	_, err := s.client.MyRecords(context.Background())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
	s.Equal(1, s.backend.RefreshCalls())
	s.Len(s.requestsTo("/my-beers"), 1)
	s.assertLoggedOut()
}

func (s *ClientSuite) TestNoStoredTokenFailsWithoutLooping() {
	_, err := s.client.MyRecords(context.Background())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))

	reqs := s.requestsTo("/my-beers")
	s.Require().Len(reqs, 1)
	s.Empty(reqs[0].Authorization)
	s.Zero(s.backend.RefreshCalls())
	s.assertLoggedOut()
}

func (s *ClientSuite) TestRequireAuthWithoutSessionSkipsTheNetwork() {
	_, err := s.client.Call(context.Background(), "/my-beers", client.RequireAuth())
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
	s.Empty(s.backend.Requests())
}

func (s *ClientSuite) TestRequestFailureLeavesSessionAlone() {
	s.signIn()

	err := s.client.DeleteRecord(context.Background(), "missing")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRequestFailed))
	s.Contains(err.Error(), "Beer not found or not owned by user")

	var httpErr *apierror.HTTPError
	s.Require().True(errors.As(err, &httpErr))
	s.Equal(http.StatusNotFound, httpErr.Status)
	s.Zero(s.backend.RefreshCalls())
	s.True(s.manager.Observer().Snapshot().IsAuthenticated)
}

func (s *ClientSuite) TestRecords() {
	s.Run("create as JSON then delete", func() {
		s.setup()
		s.signIn()

		id, err := s.client.CreateRecord(context.Background(), client.NewRecord{Note: "  porter  "})
		s.Require().NoError(err)
		s.Require().Len(s.backend.Records(), 1)
		s.Equal("porter", s.backend.Records()[0].Note)

		s.Require().NoError(s.client.DeleteRecord(context.Background(), id))
		s.Empty(s.backend.Records())
	})

	s.Run("create with image as multipart", func() {
		s.setup()
		s.signIn()

		_, err := s.client.CreateRecord(context.Background(), client.NewRecord{
			Note:  "lager",
			Image: strings.NewReader("\xff\xd8 not really a jpeg"),
		})
		s.Require().NoError(err)
		s.Equal("lager", s.backend.Records()[0].Note)
	})

	s.Run("note validation happens before the network", func() {
		s.setup()
		s.signIn()

		_, err := s.client.CreateRecord(context.Background(), client.NewRecord{Note: strings.Repeat("x", 251)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.client.CreateRecord(context.Background(), client.NewRecord{Note: "   "})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Empty(s.requestsTo("/beers"))
	})

	s.Run("all records and leaderboard are public", func() {
		s.setup()
		may := time.Date(2025, 5, 3, 12, 0, 0, 0, time.UTC)
		s.backend.AddRecord(s.userID, "ipa", may)
		s.backend.AddRecord(s.userID, "ipa again", may.AddDate(0, 0, 1))

		all, err := s.client.AllRecords(context.Background())
		s.Require().NoError(err)
		s.Require().Len(all, 2)
		s.Equal("Ada", all[0].UserName)

		board, err := s.client.Leaderboard(context.Background())
		s.Require().NoError(err)
		s.Require().Len(board, 1)
		s.Equal("Ada", board[0].UserName)
		s.Equal(2, board[0].Total())
		s.Equal("2025-05", board[0].MonthlyData[0].Month)
	})
}

func TestAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	mgr := service.New(store.NewInMemory(), authapi.New(srv.URL), service.WithLogger(logger.Discard()))
	c := client.New(srv.URL, mgr, client.WithLogger(logger.Discard()), client.WithRequestTimeout(50*time.Millisecond))

	_, err := c.Call(context.Background(), "/slow")
	if !dErrors.HasCode(err, dErrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCallJSONEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	mgr := service.New(store.NewInMemory(), authapi.New(srv.URL), service.WithLogger(logger.Discard()))
	c := client.New(srv.URL, mgr, client.WithLogger(logger.Discard()))

	out, err := client.CallJSON[map[string]string](context.Background(), c, "/empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected zero value, got %v", out)
	}
}

func TestScenario_ExpiredSessionOnStartup(t *testing.T) {
	testutil.Given(t, "a stored token whose exp has passed", func(t *testing.T) {
		b := backend.New(t)
		tokens := store.NewInMemory()
		stale := testutil.StructuredToken(t, "7", time.Now().Add(-time.Minute))
		require.NoError(t, tokens.Save(context.Background(), stale, "refresh-7"))

		mgr := service.New(tokens, authapi.New(b.URL()), service.WithLogger(logger.Discard()))
		c := client.New(b.URL(), mgr, client.WithLogger(logger.Discard()))

		testutil.When(t, "the session is hydrated", func(t *testing.T) {
			require.NoError(t, mgr.Hydrate(context.Background()))

			testutil.Then(t, "the user is signed out and the store is empty", func(t *testing.T) {
				assert.False(t, mgr.Observer().Snapshot().IsAuthenticated)
				_, err := tokens.Load(context.Background())
				assert.ErrorIs(t, err, sentinel.ErrNotFound)
			})

			testutil.And(t, "a protected call goes out without credentials and ends as session expired", func(t *testing.T) {
				_, err := c.MyRecords(context.Background())
				assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionExpired))
				assert.Zero(t, b.RefreshCalls())
				reqs := b.Requests()
				require.Len(t, reqs, 1)
				assert.Empty(t, reqs[0].Authorization)
			})
		})
	})
}
