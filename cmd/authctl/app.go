package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authsession/internal/account"
	"github.com/nkiryanov/authsession/internal/crosstab"
	"github.com/nkiryanov/authsession/internal/db"
	"github.com/nkiryanov/authsession/internal/flow"
	"github.com/nkiryanov/authsession/internal/gateway"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/session"
	"github.com/nkiryanov/authsession/internal/storage/file"
	"github.com/nkiryanov/authsession/internal/storage/memory"
	"github.com/nkiryanov/authsession/internal/storage/postgres"
	redisarea "github.com/nkiryanov/authsession/internal/storage/redis"
	"github.com/nkiryanov/authsession/internal/tokenstore"
)

const redisKeyPrefix = "authsession:persistent:"

// App is the single place where components get wired together
type App struct {
	Logger  logger.Logger
	Store   *tokenstore.Store
	Gateway *gateway.Client
	Session *session.Manager
	Flow    *flow.Controller
	Account *account.Client
	Bus     *crosstab.Bus

	// Where remembered tokens live, shown to the user
	Backend string

	Prompt *Prompter
	Out    io.Writer

	closers []func() error
}

func NewApp(ctx context.Context, c *Config, in io.Reader, out io.Writer) (_ *App, err error) {
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &App{
		Logger: l,
		Prompt: NewPrompter(in, out),
		Out:    out,
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	var redisClient *redis.Client
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		app.closers = append(app.closers, redisClient.Close)
	}

	persistent, err := app.persistentArea(ctx, c, redisClient)
	if err != nil {
		return nil, err
	}

	// Session events: across processes through redis, inside this process otherwise
	var pub message.Publisher
	var sub message.Subscriber
	if redisClient != nil {
		pub, sub, err = crosstab.NewRedisStream(redisClient, l)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pub.Close, sub.Close)
	} else {
		ch := crosstab.NewInProcess(l)
		pub, sub = ch, ch
		app.closers = append(app.closers, ch.Close)
	}
	app.Bus = crosstab.NewBus(pub, sub, l)

	app.Store = tokenstore.New(persistent, memory.New(), app.Bus, l)
	app.Gateway = gateway.New(c.APIURL, &http.Client{Timeout: c.Timeout}, l)
	app.Session = session.New(app.Store, app.Gateway, l)
	app.Flow = flow.New(app.Gateway, app.Session, l)
	app.Account = account.New(app.Gateway, app.Session)

	state := app.Session.Boot(ctx)
	l.Debug("Session booted", "state", state, "backend", app.Backend)

	return app, nil
}

// Database wins over redis, token file is the fallback
func (a *App) persistentArea(ctx context.Context, c *Config, redisClient *redis.Client) (tokenstore.Area, error) {
	switch {
	case c.DatabaseDSN != "":
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.Backend = "postgres"
		return postgres.New(pool, "persistent"), nil

	case redisClient != nil:
		a.Backend = "redis"
		return redisarea.New(redisClient, redisKeyPrefix), nil

	default:
		path, err := c.TokenFilePath()
		if err != nil {
			return nil, err
		}
		a.Backend = "file " + path
		return file.New(path), nil
	}
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for _, closeFn := range slices.Backward(a.closers) {
		if err := closeFn(); err != nil {
			a.Logger.Warn("Failed to release resource", "error", err)
		}
	}
	a.closers = nil
}
