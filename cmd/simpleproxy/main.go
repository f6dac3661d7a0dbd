package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"simpleproxy-go/internal/client"
	"simpleproxy-go/internal/config"
	"simpleproxy-go/internal/handler"
	"simpleproxy-go/internal/metrics"
	"simpleproxy-go/internal/middleware"
	"simpleproxy-go/internal/router"
	"simpleproxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("simpleproxy"),
		kong.Description("A small always-on reverse HTTP(S) proxy."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			router.New,
			client.NewUpstreamClient,
			service.NewForwarder,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, registerMetricsEndpoint, warnConfigPermissions, startListeners),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerMetricsEndpoint(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if m == nil {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// newHTTPServer builds the per-listener server around the shared Echo handler.
// WriteTimeout is disabled (0) to avoid cutting off valid long-running
// streamed responses. Protection is provided by the upstream client timeout,
// ReadTimeout, and IdleTimeout.
func newHTTPServer(e *echo.Echo) *http.Server {
	return &http.Server{
		Handler:           e,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// startListeners binds every configured listener before serving any of them,
// so a bad address or bad TLS material aborts startup instead of silently
// serving a subset.
func startListeners(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	servers := make([]*http.Server, 0, len(cfg.Listeners))

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			listeners := make([]net.Listener, 0, len(cfg.Listeners))
			closeAll := func() {
				for _, ln := range listeners {
					_ = ln.Close()
				}
			}

			for _, lcfg := range cfg.Listeners {
				addr := lcfg.Addr()
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					closeAll()
					return fmt.Errorf("bind %s: %w", addr, err)
				}

				if lcfg.TLS != nil {
					tlsCfg, err := lcfg.TLS.Load()
					if err != nil {
						_ = ln.Close()
						closeAll()
						return fmt.Errorf("listener %s: %w", addr, err)
					}
					ln = tls.NewListener(ln, tlsCfg)
					logger.Info("TLS enabled", "addr", addr)
				}

				listeners = append(listeners, ln)
				logger.Info("starting listener", "addr", addr)
			}

			for _, ln := range listeners {
				srv := newHTTPServer(e)
				servers = append(servers, srv)
				go func(srv *http.Server, ln net.Listener) {
					if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
						logger.Error("server error", "addr", ln.Addr().String(), "err", err)
					}
				}(srv, ln)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down listeners")
			var firstErr error
			for _, srv := range servers {
				if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	})
}
