package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/jrsteele09/go-oidc-gateway/hooks"
	"github.com/jrsteele09/go-oidc-gateway/internal/config"
	"github.com/jrsteele09/go-oidc-gateway/internal/metrics"
	"github.com/jrsteele09/go-oidc-gateway/server/authflowrepo"
	"github.com/jrsteele09/go-oidc-gateway/server/loginsession"
	"github.com/rs/zerolog/log"
)

// Components are the stores and collaborators the server is built from
type Components struct {
	LoginSessions loginsession.Repo
	AuthState     authflowrepo.Repo
	Dispatcher    *hooks.Dispatcher
	Metrics       *metrics.Metrics
	// HTTPClient is used for the code exchange. Defaults to a pooled cleanhttp client.
	HTTPClient *http.Client
}

type Server struct {
	env        string // Environment (e.g., "DEV", "PROD")
	mux        *http.ServeMux
	routes     []string
	config     *config.Config
	oidc       *OidcConfig
	httpClient *http.Client

	loginSessions loginsession.Repo
	authState     authflowrepo.Repo
	dispatcher    *hooks.Dispatcher
	metrics       *metrics.Metrics
}

func New(cfg *config.Config, oidcConfig *OidcConfig, c Components) (*Server, error) {
	if cfg == nil || oidcConfig == nil {
		return nil, fmt.Errorf("[Server New] config and oidc config are required")
	}
	if c.LoginSessions == nil || c.AuthState == nil {
		return nil, fmt.Errorf("[Server New] login session and auth state repos are required")
	}

	s := &Server{
		env:           cfg.Env,
		mux:           http.NewServeMux(),
		config:        cfg,
		oidc:          oidcConfig,
		httpClient:    c.HTTPClient,
		loginSessions: c.LoginSessions,
		authState:     c.AuthState,
		dispatcher:    c.Dispatcher,
		metrics:       c.Metrics,
	}
	if s.httpClient == nil {
		s.httpClient = cleanhttp.DefaultPooledClient()
	}
	if s.dispatcher == nil {
		s.dispatcher = hooks.NewDispatcher(nil)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if !s.config.IsDev() {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		log.Debug().Str("method", method).Str("path", path).Msg("Route registered")
	}
}

// Sweeper is implemented by stores that need expired entries removed periodically
type Sweeper interface {
	Sweep(now time.Time) int
}

// RunSweeper removes expired sessions and pending login attempts every SESSION_SWEEP_INTERVAL
// until ctx is done. Stores that expire entries themselves, like Redis, are left alone.
func (s *Server) RunSweeper(ctx context.Context) {
	sessions, _ := s.loginSessions.(Sweeper)
	states, _ := s.authState.(Sweeper)
	if sessions == nil && states == nil {
		return
	}

	ticker := time.NewTicker(s.config.Sessions.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now, sessions, states)
		}
	}
}

func (s *Server) sweep(now time.Time, sessions, states Sweeper) {
	if sessions != nil {
		if n := sessions.Sweep(now); n > 0 {
			s.metrics.AddSessionsEvicted(n)
			log.Debug().Int("count", n).Msg("Swept expired login sessions")
		}
	}
	if states != nil {
		if n := states.Sweep(now); n > 0 {
			log.Debug().Int("count", n).Msg("Swept expired login attempts")
		}
	}
}
