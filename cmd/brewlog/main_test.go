package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewlog/internal/platform/config"
	"brewlog/internal/platform/logger"
	"brewlog/internal/session/observer"
	dErrors "brewlog/pkg/domain-errors"
	"brewlog/pkg/testutil/backend"
)

type cli struct {
	t   *testing.T
	cfg config.Client
}

func newCLI(t *testing.T, b *backend.Backend) *cli {
	return &cli{t: t, cfg: config.Client{
		APIBase:        b.URL(),
		RequestTimeout: 5 * time.Second,
		RefreshTimeout: 5 * time.Second,
		Store: config.StoreConfig{
			Backend:    config.StoreFile,
			FilePath:   filepath.Join(t.TempDir(), "session.json"),
			Passphrase: "correct horse",
			Profile:    "default",
		},
	}}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), c.cfg, logger.Discard(), args, strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestSessionLifecycle(t *testing.T) {
	b := backend.New(t)
	b.AddUser("ada@example.com", "hunter22", "Ada")
	c := newCLI(t, b)

	out, err := c.run("", "whoami")
	require.NoError(t, err)
	var st observer.State
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.IsAuthenticated)

	_, err = c.run("hunter22\n", "login", "-email", "ada@example.com")
	require.NoError(t, err)

	out, err = c.run("", "whoami")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.IsAuthenticated)
	assert.NotEmpty(t, st.UserID)

	out, err = c.run("", "post", "-note", "dunkel")
	require.NoError(t, err)
	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotEmpty(t, created["id"])

	b.RevokeAccessTokens()
	out, err = c.run("", "records")
	require.NoError(t, err)
	assert.Contains(t, out, "dunkel")
	assert.Equal(t, 1, b.RefreshCalls())

	_, err = c.run("", "delete", created["id"])
	require.NoError(t, err)
	assert.Empty(t, b.Records())

	out, err = c.run("", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")

	_, err = c.run("", "records")
	require.Error(t, err)
	assert.Equal(t, "your session has expired, please log in again", userMessage(err))
}

func TestRegisterPromptsForPasswords(t *testing.T) {
	b := backend.New(t)
	c := newCLI(t, b)

	_, err := c.run("s3cret\nother\n", "register", "-email", "bob@example.com", "-name", "Bob")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Equal(t, "passwords do not match", userMessage(err))

	out, err := c.run("s3cret\ns3cret\n", "register", "-email", "bob@example.com", "-name", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, `"is_authenticated": true`)
}

func TestLeaderboardOrdersByTotal(t *testing.T) {
	b := backend.New(t)
	ada := b.AddUser("ada@example.com", "x", "Ada")
	bob := b.AddUser("bob@example.com", "x", "Bob")
	now := time.Now()
	b.AddRecord(ada, "one", now)
	b.AddRecord(bob, "one", now)
	b.AddRecord(bob, "two", now)

	out, err := newCLI(t, b).run("", "leaderboard")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Bob")
	assert.Contains(t, lines[1], "Ada")
}

func TestUnknownCommandAndStore(t *testing.T) {
	b := backend.New(t)
	c := newCLI(t, b)

	out, err := c.run("", "brew")
	require.Error(t, err)
	assert.Contains(t, out, "leaderboard")

	c.cfg.Store.Backend = "etcd"
	_, err = c.run("", "whoami")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
