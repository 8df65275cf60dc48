package crudrouter

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/edgeflare/crudrouter/internal/demo"
	"github.com/edgeflare/crudrouter/pkg/config"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/httputil"
	mw "github.com/edgeflare/crudrouter/pkg/httputil/middleware"
	"github.com/edgeflare/crudrouter/pkg/metrics"
	"github.com/edgeflare/crudrouter/pkg/notify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Register built-in sinks
	_ "github.com/edgeflare/crudrouter/pkg/notify/kafka"
	_ "github.com/edgeflare/crudrouter/pkg/notify/nats"
	_ "github.com/edgeflare/crudrouter/pkg/notify/pgnotify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts an HTTP server exposing the potato and carrot resources over the configured backend`,
	RunE:  runServe,
}

func init() {
	addServerFlags(serveCmd)
	f := serveCmd.Flags()
	f.Bool("metrics.enabled", false, "Serve Prometheus metrics")
	f.String("metrics.addr", "", "Prometheus metrics listen address")
	rootCmd.AddCommand(serveCmd)
}

// addServerFlags declares the flags shared by commands that build the resources.
func addServerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("server.listenAddr", "l", "", "HTTP server listen address")
	f.String("server.baseURL", "", "Base URL prefixing every route, e.g. /api/v1")
	f.Int("server.paginate", 0, "Maximum page size of list routes, overriding each resource's own")
	f.StringP("backend.driver", "d", "", "Backend driver (memory, sqlite, postgres, pgx, mongo, redis)")
	f.String("backend.dsn", "", "Backend connection string")
}

// resourceOptions translates server configuration into router options: auth on mutating
// routes, the page cap and the notifier.
func resourceOptions(ctx context.Context, sc config.ServerConfig, notifier crud.Notifier) ([]crud.Option, error) {
	opts := []crud.Option{crud.WithLogger(logger)}
	if notifier != nil {
		opts = append(opts, crud.WithNotifier(notifier))
	}
	if sc.Paginate > 0 {
		opts = append(opts, crud.WithPagination(sc.Paginate))
	}

	var auth []httputil.Middleware
	if sc.OIDC.Enabled() {
		provider, err := mw.NewOIDCProvider(ctx, mw.OIDCProviderConfig{
			ClientID:     sc.OIDC.ClientID,
			ClientSecret: sc.OIDC.ClientSecret,
			Issuer:       sc.OIDC.Issuer,
			CacheTTL:     sc.OIDC.CacheTTL,
		})
		if err != nil {
			return nil, err
		}
		auth = append(auth, provider.VerifyOIDCToken(true))
	}
	if len(sc.BasicAuth) > 0 {
		auth = append(auth, mw.VerifyBasicAuth(mw.BasicAuthCreds(sc.BasicAuth)))
	}
	if len(auth) > 0 {
		protected := crud.Protected(auth...)
		opts = append(opts,
			crud.WithCreateRoute(protected),
			crud.WithUpdateRoute(protected),
			crud.WithDeleteOneRoute(protected),
			crud.WithDeleteAllRoute(protected),
		)
	}
	return opts, nil
}

// newServer builds the router with default middleware, health check and resources.
func newServer(ctx context.Context, c *config.Config, res demo.Resources, notifier crud.Notifier) (*httputil.Router, []crud.RouteInfo, error) {
	routerOpts := []httputil.RouterOptions{httputil.WithLogger(logger)}
	if c.Server.TLS.Enabled() {
		tlsConfig, err := httputil.TLSConfig(c.Server.TLS.CertFile, c.Server.TLS.KeyFile, c.Server.TLS.SelfSigned)
		if err != nil {
			return nil, nil, err
		}
		routerOpts = append(routerOpts, httputil.WithTLS(tlsConfig))
	}
	router := httputil.NewRouter(routerOpts...)
	router.Use(
		mw.RequestID,
		mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}),
		mw.CORSWithOptions(c.Server.CORS),
	)
	router.Handle("GET /healthz", healthHandler(c.Backend.Driver))

	opts, err := resourceOptions(ctx, c.Server, notifier)
	if err != nil {
		return nil, nil, err
	}
	routes, err := res.Register(router.Group(c.Server.BaseURL), opts...)
	if err != nil {
		return nil, nil, err
	}
	for i := range routes {
		routes[i].Path = c.Server.BaseURL + routes[i].Path
	}
	return router, routes, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logger.Sync()

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
			Logger: logger,
		})
	}

	res, closeBackend, err := openResources(ctx, cfg.Backend)
	if err != nil {
		return err
	}
	defer closeBackend()

	dispatcher, err := notify.NewDispatcher(ctx, cfg.Notify.Sinks, logger, cfg.Notify.BufferSize)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	var notifier crud.Notifier
	if dispatcher.Len() > 0 {
		notifier = dispatcher
	}
	server, routes, err := newServer(ctx, cfg, res, notifier)
	if err != nil {
		return err
	}
	for _, route := range routes {
		logger.Info("route", zap.String("method", route.Method), zap.String("path", route.Path), zap.Bool("protected", route.Protected))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	wg.Wait()
	logger.Info("server gracefully stopped")
	return nil
}
