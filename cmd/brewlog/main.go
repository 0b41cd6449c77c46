package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"brewlog/internal/authapi"
	"brewlog/internal/client"
	"brewlog/internal/platform/config"
	"brewlog/internal/platform/logger"
	"brewlog/internal/platform/metrics"
	"brewlog/internal/platform/postgres"
	redisclient "brewlog/internal/platform/redis"
	"brewlog/internal/session/service"
	"brewlog/internal/session/store"
	dErrors "brewlog/pkg/domain-errors"
)

// main wires configuration, the token store and the session core, then hands
// off to the requested subcommand.
func main() {
	cfg := config.FromEnv()
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "brewlog:", userMessage(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Client, log *slog.Logger, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return errors.New("no command given")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}

	a, cleanup, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	a.stdin = bufio.NewReader(stdin)
	a.stdout = stdout

	if err := a.manager.Hydrate(ctx); err != nil {
		return err
	}
	return cmd.run(ctx, a, args[1:])
}

// app is everything a subcommand may need.
type app struct {
	cfg      config.Client
	log      *slog.Logger
	registry *prometheus.Registry
	manager  *service.Manager
	auth     *authapi.Client
	api      *client.Client
	stdin    *bufio.Reader
	stdout   io.Writer
}

func newApp(ctx context.Context, cfg config.Client, log *slog.Logger) (*app, func(), error) {
	tokens, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	auth := authapi.New(cfg.APIBase,
		authapi.WithLogger(log),
		authapi.WithTimeout(cfg.RequestTimeout),
	)
	manager := service.New(tokens, auth,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithRefreshTimeout(cfg.RefreshTimeout),
	)
	api := client.New(cfg.APIBase, manager,
		client.WithLogger(log),
		client.WithMetrics(m),
		client.WithRequestTimeout(cfg.RequestTimeout),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		manager:  manager,
		auth:     auth,
		api:      api,
	}, closeStore, nil
}

func openStore(ctx context.Context, cfg config.Client, log *slog.Logger) (service.TokenStore, func(), error) {
	noop := func() {}
	switch cfg.Store.Backend {
	case config.StoreMemory:
		log.Warn("using in-memory token store; sessions will not survive this process")
		return store.NewInMemory(), noop, nil

	case config.StoreFile:
		var opts []store.FileOption
		if cfg.Store.Passphrase != "" {
			opts = append(opts, store.WithPassphrase(cfg.Store.Passphrase))
		}
		fs := store.NewFile(cfg.Store.FilePath, opts...)
		log.Debug("using file token store", "path", fs.Path(), "encrypted", cfg.Store.Passphrase != "")
		return fs, noop, nil

	case config.StoreRedis:
		rc, err := redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to connect to redis")
		}
		if rc == nil {
			return nil, nil, dErrors.New(dErrors.CodeValidation, "REDIS_URL is required for the redis token store")
		}
		key := store.DefaultRedisKey + ":" + cfg.Store.Profile
		return store.NewRedis(rc.Client, store.WithRedisKey(key)), func() { _ = rc.Close() }, nil

	case config.StorePostgres:
		if cfg.Postgres.URL == "" {
			return nil, nil, dErrors.New(dErrors.CodeValidation, "DATABASE_URL is required for the postgres token store")
		}
		pool, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to connect to postgres")
		}
		ps := store.NewPostgres(pool, store.WithProfile(cfg.Store.Profile))
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to prepare token table")
		}
		return ps, closePool(pool), nil

	default:
		return nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown token store %q", cfg.Store.Backend))
	}
}

func closePool(pool *pgxpool.Pool) func() {
	return func() { pool.Close() }
}

// userMessage turns an error into the line shown to the user.
func userMessage(err error) string {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		return err.Error()
	}
	switch de.Code {
	case dErrors.CodeSessionExpired:
		return "your session has expired, please log in again"
	case dErrors.CodeTimeout:
		return "the server took too long to respond"
	case dErrors.CodeValidation, dErrors.CodeRequestFailed, dErrors.CodeUnauthorized:
		return de.Message
	default:
		return err.Error()
	}
}
