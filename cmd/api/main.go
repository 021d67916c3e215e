package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-pushupcounter/internal/auth"
	"backend-pushupcounter/internal/config"
	"backend-pushupcounter/internal/db"
	"backend-pushupcounter/internal/events"
	"backend-pushupcounter/internal/processor"
	"backend-pushupcounter/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	args            []string
	stdout          io.Writer
	loadEnv         func(...string) error
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	newPublisher    func(context.Context, config.Config) (events.Publisher, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, events.Publisher, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		args:            os.Args[1:],
		stdout:          os.Stdout,
		loadEnv:         godotenv.Load,
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		newPublisher:    events.New,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	fs := flag.NewFlagSet("api", flag.ContinueOnError)
	issueToken := fs.String("issue-token", "", "print a signed access token for this user id and exit")
	tokenTTL := fs.Duration("token-ttl", auth.DefaultTokenTTL, "lifetime of tokens printed by -issue-token")
	if err := fs.Parse(deps.args); err != nil {
		return
	}

	if err := deps.loadEnv(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	cfg := deps.loadConfig()
	config.SetupLogger(os.Stderr, cfg.LogLevel)

	if *issueToken != "" {
		token, err := auth.SignToken(cfg.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			slog.Error("issue token failed", "error", err)
			return
		}
		fmt.Fprintln(deps.stdout, token)
		return
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		slog.Error("postgres connection failed", "error", err)
	}

	rdb := deps.connectRedis(cfg)

	ctx := context.Background()
	pub, err := deps.newPublisher(ctx, cfg)
	if err != nil {
		slog.Error("events publisher unavailable, continuing without events", "backend", cfg.EventsBackend, "error", err)
		pub = events.Noop{}
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, pg, rdb, pub, signals, nil); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, pub events.Publisher, signals <-chan os.Signal, listen ListenFunc) error {
	var database db.Querier
	if pg != nil {
		database = pg
	}
	if pub == nil {
		pub = events.Noop{}
	}

	if database != nil {
		if err := db.Migrate(ctx, database); err != nil {
			return err
		}
	} else {
		slog.Warn("running without postgres, sessions are cached but not persisted")
	}

	srv := server.NewServer(cfg, database, rdb, pub, processor.FromConfig(cfg))
	if err := srv.Storage.Init(); err != nil {
		return err
	}

	if listen == nil {
		listen = defaultListen
	}

	slog.Info("starting push-up counter api", "addr", cfg.ServerPort, "output_dir", cfg.OutputDir, "events", cfg.EventsBackend)

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case sig := <-signals:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	srv.Close()
	pub.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
