package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"eventhub/internal/config"
	"eventhub/internal/logger"
	"eventhub/internal/mysql"
	"eventhub/internal/phoenix"
	"eventhub/internal/routing"
	"eventhub/internal/supabase"
	"eventhub/pkg/account"
	"eventhub/pkg/cookie"
	"eventhub/pkg/event"
	"eventhub/pkg/handlers"
	"eventhub/pkg/middleware"
	"eventhub/pkg/session"
	"eventhub/pkg/tokencache"
)

const (
	realtimeAuthInterval = time.Minute
	sessionPurgeInterval = 10 * time.Minute
)

func main() {
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.Load(opts.Debug)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts config.Options, log *slog.Logger) error {
	db, err := mysql.LoadDB(ctx, opts.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	factory := supabase.NewFactory(opts.URL, opts.AnonKey)
	provider, err := supabase.NewIdentityProvider(factory, opts.ServiceKey)
	if err != nil {
		return err
	}

	cacheOpts := []tokencache.Option{
		tokencache.WithSkew(opts.TokenSkew),
		tokencache.WithLogger(log),
	}
	if opts.SingleFlight() {
		cacheOpts = append(cacheOpts, tokencache.WithSingleFlight())
	}
	if opts.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("cannot connect to redis: %w", err)
		}
		cacheOpts = append(cacheOpts, tokencache.WithStore(tokencache.NewRedisStore(rdb)))
	}
	cache := tokencache.New(provider, tokencache.Credentials{
		Email:    opts.VisitorEmail,
		Password: opts.VisitorPassword,
	}, cacheOpts...)

	visitorToken, err := cache.VisitorToken(ctx)
	if err != nil {
		log.Warn("visitor sign in failed, realtime joins as anon until it succeeds", "error", err)
	}

	rtURL, err := supabase.RealtimeURL(opts.URL, opts.AnonKey)
	if err != nil {
		return err
	}
	socket := phoenix.NewSocket(phoenix.Config{URL: rtURL, AccessToken: visitorToken, Logger: log})
	go func() {
		if err := socket.Run(ctx); err != nil {
			log.Error("realtime socket stopped", "error", err)
		}
	}()
	go refreshRealtimeAuth(ctx, cache, socket, visitorToken, log)

	sessions := session.NewMySQLSessionRepo(db)
	go purgeSessions(ctx, sessions, log)

	secret := []byte(opts.JWTSecret)
	accounts := account.NewService(cache, sessions, secret, opts.SessionTTL, log)
	events := event.NewService(supabase.NewAttendeeRepo(factory), cache, socket, log)

	r := mux.NewRouter()
	r.Use(middleware.Metrics)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Panic(log))
	api.Use(middleware.Session(cookie.NewParser(secret, cookie.WithLogger(log)), opts.SessionCookieName, sessions, log))

	routing.InitRoutes(api, routing.Handlers{
		Auth:   handlers.NewAuthHandler(accounts, opts.SessionCookieName, opts.SecureCookies, log),
		Token:  handlers.NewTokenHandler(cache, accounts, log),
		Events: handlers.NewEventHandler(events, log),
	})
	routing.ServeMetrics(r)
	routing.ServeFallback(r, log)

	return routing.StartServer(ctx, opts.HTTPAddr, r, log)
}

// refreshRealtimeAuth keeps the socket's access token in step with the
// cached visitor token.
func refreshRealtimeAuth(ctx context.Context, cache *tokencache.Cache, socket *phoenix.Socket, current string, log *slog.Logger) {
	ticker := time.NewTicker(realtimeAuthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tok, err := cache.VisitorToken(ctx)
		if err != nil {
			log.Warn("visitor token refresh failed", "error", err)
			continue
		}
		if tok != current {
			socket.SetAuth(tok)
			current = tok
			log.Debug("realtime access token refreshed")
		}
	}
}

func purgeSessions(ctx context.Context, sessions *session.MySQLSessionRepo, log *slog.Logger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := sessions.Purge(ctx)
		if err != nil {
			log.Warn("session purge failed", "error", err)
			continue
		}
		if n > 0 {
			log.Debug("expired sessions purged", "count", n)
		}
	}
}
