package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/jrsteele09/go-oidc-gateway/hooks"
	"github.com/jrsteele09/go-oidc-gateway/internal/config"
	apperrors "github.com/jrsteele09/go-oidc-gateway/internal/errors"
	"github.com/jrsteele09/go-oidc-gateway/internal/metrics"
	"github.com/jrsteele09/go-oidc-gateway/server"
	"github.com/jrsteele09/go-oidc-gateway/server/authflowrepo"
	"github.com/jrsteele09/go-oidc-gateway/server/loginsession"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(c)
	displayAppname(c.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	httpClient := cleanhttp.DefaultPooledClient()

	oidcConfig, err := server.Discover(ctx, c, httpClient, m)
	if err != nil {
		return apperrors.Wrapf(err, "oidc discovery")
	}

	loginSessions, closeSessions, err := newLoginSessionRepo(ctx, c)
	if err != nil {
		return err
	}
	defer closeSessions()

	registrations, err := hooks.FromConfig(c.Hooks, httpClient)
	if err != nil {
		return apperrors.Wrapf(err, "login hooks")
	}
	dispatcher := hooks.NewDispatcher(registrations,
		hooks.WithDispatchTimeout(c.Hooks.DispatchTimeout),
		hooks.WithRetryBackoff(c.Hooks.RetryBackoff),
		hooks.WithMetrics(m),
	)

	srv, err := server.New(c, oidcConfig, server.Components{
		LoginSessions: loginSessions,
		AuthState:     authflowrepo.NewInMemoryRepo(c.StateTTL),
		Dispatcher:    dispatcher,
		Metrics:       m,
		HTTPClient:    httpClient,
	})
	if err != nil {
		return err
	}
	go srv.RunSweeper(ctx)

	httpServer := &http.Server{
		Addr:              c.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	log.Info().
		Str("issuer", c.OIDC.IssuerURL).
		Str("client_id", c.OIDC.ClientID).
		Str("session_store", c.Sessions.Store).
		Int("hooks", len(registrations)).
		Msg("Gateway configured")

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func newLoginSessionRepo(ctx context.Context, c *config.Config) (loginsession.Repo, func(), error) {
	if c.Sessions.Store != config.SessionStoreRedis {
		return loginsession.NewInMemoryLoginSessionRepo(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: c.Sessions.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, apperrors.Wrapf(err, "redis %s", c.Sessions.RedisAddr)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			log.Err(err).Msg("Failed to close redis client")
		}
	}
	return loginsession.NewRedisLoginSessionRepo(client), closeFn, nil
}

func setupLogging(c *config.Config) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return apperrors.Wrapf(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
