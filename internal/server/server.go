package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/martinmaurice/erpgate/internal/auth"
	"github.com/martinmaurice/erpgate/internal/metrics"
	"github.com/martinmaurice/erpgate/internal/proxy"
	"github.com/martinmaurice/erpgate/internal/server/middleware"
	"github.com/martinmaurice/erpgate/pkg/config"
	"github.com/martinmaurice/erpgate/pkg/env"
	"github.com/martinmaurice/erpgate/pkg/rate_limiter"
	"github.com/martinmaurice/erpgate/pkg/session"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	DefaultGracefulShutdownTimeout = 10 * time.Second

	ProxyRoutePrefix    = "/api/proxy"
	ExternalRoutePrefix = "/api/external"
	AuthRoutePrefix     = "/api/auth"
)

var proxiedMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

type Server struct {
	port                  string
	readTimeoutInSeconds  time.Duration
	writeTimeoutInSeconds time.Duration
	maxHeaderBytes        int
	trustedProxies        []string
	backendURL            string
	externalURL           string
	appIDHeader           string
	appID                 string
	handler               *gin.Engine
	servicer              rate_limiter.Servicer
	cfg                   *config.Config
	metrics               *metrics.Metrics
	httpClient            *http.Client
	disableRateLimiter    bool
}

type Option func(s *Server)

func WithDisableRateLimiter(value bool) Option {
	return func(s *Server) {
		s.disableRateLimiter = value
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Server) {
		s.httpClient = httpClient
	}
}

func NewServer(servicer rate_limiter.Servicer, cfg *config.Config, envObj *env.Specification, opts ...Option) (*Server, error) {
	s := &Server{
		port:                  envObj.ServerPort,
		readTimeoutInSeconds:  envObj.ServerReadTimeoutInSecond,
		writeTimeoutInSeconds: envObj.ServerWriteTimeoutInSecond,
		maxHeaderBytes:        envObj.ServerMaxHeaderBytes,
		trustedProxies:        envObj.TrustedProxies,
		backendURL:            envObj.BackendUrl,
		externalURL:           envObj.ExternalApiUrl,
		appIDHeader:           envObj.AppIdHeader,
		appID:                 envObj.XAppId,
		servicer:              servicer,
		cfg:                   cfg,
		metrics:               metrics.New(),
		httpClient:            &http.Client{},
		disableRateLimiter:    false,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) rateLimit(rateLimiterID string) gin.HandlerFunc {
	if s.disableRateLimiter {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimitByClientIPMiddleware(s.servicer, rateLimiterID, s.metrics.RecordRateLimited)
}

func (s *Server) proxyOptions() []proxy.Option {
	return []proxy.Option{
		proxy.WithHTTPClient(s.httpClient),
		proxy.WithAppID(s.appIDHeader, s.appID),
		proxy.WithTimeout(s.cfg.Proxy.Timeout),
		proxy.WithMaxBodyBytes(s.cfg.Proxy.MaxBodyBytes),
		proxy.WithBackendObserver(s.metrics.ObserveBackend),
	}
}

func registerProxy(group *gin.RouterGroup, h *proxy.Handler) {
	for _, method := range proxiedMethods {
		group.Handle(method, "/*"+proxy.PathParam, h.Handle)
	}
}

func (s *Server) routes() error {
	engine := gin.New()
	engine.Use(gin.Recovery())
	if err := engine.SetTrustedProxies(s.trustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}

	engine.Use(middleware.QueueTimeMiddleware)
	engine.Use(middleware.RequestIDMiddleware)
	engine.Use(s.metrics.Middleware)

	if s.disableRateLimiter {
		slog.Warn("rate limiter is disabled")
	}

	cookies := session.NewCookies(s.cfg.Session.AccessTokenMaxAge, s.cfg.Session.RefreshTokenMaxAge)
	authClient := auth.New(s.backendURL, s.cfg.Backend,
		auth.WithHTTPClient(s.httpClient),
		auth.WithAppID(s.appIDHeader, s.appID),
		auth.WithCookies(cookies),
		auth.WithTimeout(s.cfg.Proxy.Timeout),
		auth.WithRefreshObserver(s.metrics.RecordRefresh),
	)

	proxyHandler, err := proxy.New(
		proxy.Target{Name: "proxy", BaseURL: s.backendURL, Authenticated: true},
		append(s.proxyOptions(), proxy.WithRefresher(authClient), proxy.WithCookies(cookies))...,
	)
	if err != nil {
		return err
	}

	proxyGroup := engine.Group(ProxyRoutePrefix, middleware.SecurityHeadersMiddleware, s.rateLimit(config.ProxyRateLimiterKey))
	registerProxy(proxyGroup, proxyHandler)

	if s.externalURL != "" {
		externalHandler, err := proxy.New(
			proxy.Target{Name: "external", BaseURL: s.externalURL},
			s.proxyOptions()...,
		)
		if err != nil {
			return err
		}
		externalGroup := engine.Group(ExternalRoutePrefix, middleware.SecurityHeadersMiddleware, s.rateLimit(config.ExternalRateLimiterKey))
		registerProxy(externalGroup, externalHandler)
	}

	authGroup := engine.Group(AuthRoutePrefix, middleware.SecurityHeadersMiddleware, s.rateLimit(config.ProxyRateLimiterKey))
	authGroup.POST("/login", LoginHandler(authClient, s.cfg.Proxy.MaxBodyBytes))
	authGroup.POST("/logout", LogoutHandler(authClient))

	engine.GET("/health", healthHandler)
	if s.cfg.Metrics.Enabled {
		engine.GET(s.cfg.Metrics.Path, s.metrics.Handler())
	}

	s.handler = engine
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Run() error {
	srv := &http.Server{
		Addr:           s.port,
		Handler:        s.handler,
		ReadTimeout:    s.readTimeoutInSeconds,
		WriteTimeout:   s.writeTimeoutInSeconds,
		MaxHeaderBytes: s.maxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", s.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop: // block until interrupt signal
	case err := <-errCh:
		return fmt.Errorf("could not listen: %w", err)
	}
	slog.Info("shutting down the server...")

	ctx, cancel := context.WithTimeout(context.Background(), DefaultGracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server exited gracefully")
	return nil
}
