// Command mplens runs the marketplace identifier overlay.
//
// Usage:
//
//	mplens -serve -seed                          # enrichment backend with demo data
//	mplens -scan https://www.ozon.ru/seller/...  # static scan, markdown report
//	mplens -scan page.html -host www.ozon.ru     # same, from a saved page
//	mplens -watch https://www.ozon.ru/...        # live overlay in Chrome
//
// The overlay reaches the backend through the connectivity router: in
// process unless the configuration routes the services elsewhere
// (routes: in the YAML file, or MPLENS_BACKEND).
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hazyhaar/mplens/connectivity"
	"github.com/hazyhaar/mplens/dbopen"
	"github.com/hazyhaar/mplens/enrichment"
	"github.com/hazyhaar/mplens/enrichment/server"
	"github.com/hazyhaar/mplens/internal/config"
	"github.com/hazyhaar/mplens/internal/fetcher"
	"github.com/hazyhaar/mplens/livepage"
	"github.com/hazyhaar/mplens/observability"
	"github.com/hazyhaar/mplens/overlay"
	"github.com/hazyhaar/mplens/render"
	"github.com/hazyhaar/mplens/trace"
	"github.com/hazyhaar/mplens/watch"
)

type options struct {
	config   string
	serve    bool
	scan     string
	watchURL string
	host     string
	db       string
	seed     bool
}

func main() {
	_ = godotenv.Load()

	var o options
	flag.StringVar(&o.config, "config", "", "path to mplens.yaml")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&o.serve, "serve", false, "run the enrichment backend")
	flag.StringVar(&o.scan, "scan", "", "scan a URL or HTML file and print found identifiers")
	flag.StringVar(&o.watchURL, "watch", "", "open a URL in Chrome with the live overlay")
	flag.StringVar(&o.host, "host", "", "host name for marketplace detection (local files)")
	flag.StringVar(&o.db, "db", "", "statistics database path (overrides config)")
	flag.BoolVar(&o.seed, "seed", false, "load demo data into the database")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if !o.serve && o.scan == "" && o.watchURL == "" {
		fmt.Fprintln(os.Stderr, "usage: mplens [-config file] -serve | -scan <url|file> | -watch <url>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("mplens: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := config.Load(o.config)
	if err != nil {
		return err
	}
	if o.db != "" {
		cfg.Server.DB = o.db
	}
	if o.seed {
		cfg.Server.Seed = true
	}

	a := &app{cfg: cfg, logger: logger}
	defer a.close()

	if o.serve {
		if err := a.serve(ctx); err != nil {
			return err
		}
	}

	switch {
	case o.scan != "":
		return a.runScan(ctx, o.scan, o.host, os.Stdout)
	case o.watchURL != "":
		return a.runWatch(ctx, o.watchURL, o.host)
	}
	<-ctx.Done()
	return nil
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger

	backend   *server.Server
	metrics   *observability.MetricsManager
	metricsDB *sql.DB
	stopWatch context.CancelFunc
	router    *connectivity.Router
	httpSrv   *http.Server
}

// openBackend opens the statistics database once.
func (a *app) openBackend(ctx context.Context) (*server.Server, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	opts := []server.Option{server.WithLogger(a.logger)}
	if a.cfg.Server.MetricsDB != "" {
		db, err := dbopen.Open(a.cfg.Server.MetricsDB, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			return nil, fmt.Errorf("mplens: metrics db: %w", err)
		}
		a.metricsDB = db
		a.metrics = observability.NewMetricsManager(db, observability.WithLogger(a.logger))
		if n, err := a.metrics.Cleanup(ctx, 7*24*time.Hour); err == nil && n > 0 {
			a.logger.Info("mplens: old metrics removed", "count", n)
		}
		opts = append(opts, server.WithMetrics(a.metrics))
		if a.cfg.Server.TraceSQL {
			trace.SetRecorder(observability.SQLRecorder(a.metrics))
		}
	}
	if a.cfg.Server.TraceSQL {
		opts = append(opts, server.WithSQLTrace())
	}
	srv, err := server.Open(a.cfg.Server.DB, opts...)
	if err != nil {
		return nil, err
	}
	if a.cfg.Server.Seed {
		if err := srv.SeedDemo(ctx); err != nil {
			srv.Close()
			return nil, err
		}
		a.logger.Info("mplens: demo data loaded", "db", a.cfg.Server.DB)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	go srv.Watch(watchCtx, watch.Options{Interval: a.cfg.Server.WatchInterval, Logger: a.logger})
	a.backend, a.stopWatch = srv, cancel
	return srv, nil
}

// serve starts the HTTP API in the background.
func (a *app) serve(ctx context.Context) error {
	srv, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("mplens: serving", "addr", a.cfg.Server.Addr, "version", server.Version)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("mplens: http server", "error", err)
		}
	}()
	return nil
}

// service builds the enrichment client. Services without a remote route
// are served in process.
func (a *app) service(ctx context.Context) (*enrichment.Client, error) {
	router := connectivity.New(connectivity.WithLogger(a.logger))
	router.RegisterTransport("http", connectivity.HTTPFactory(connectivity.WithAllowPrivate()))
	router.RegisterTransport("mcp", connectivity.MCPFactory(connectivity.WithAllowPrivate()))
	a.router = router

	if a.needsLocal() {
		srv, err := a.openBackend(ctx)
		if err != nil {
			return nil, err
		}
		srv.RegisterConnectivity(router)
	}

	routes, err := a.cfg.ConnectivityRoutes()
	if err != nil {
		return nil, err
	}
	if err := router.Apply(routes); err != nil {
		return nil, fmt.Errorf("apply routes: %w", err)
	}
	for info := range router.ListServices() {
		a.logger.Info("mplens: service route",
			"service", info.Name, "strategy", info.Strategy,
			"endpoint", info.Endpoint, "local", info.HasLocal)
	}
	return enrichment.NewClient(router, enrichment.WithClientLogger(a.logger)), nil
}

// needsLocal reports whether any service is served, or falls back, in
// process.
func (a *app) needsLocal() bool {
	routed := make(map[string]bool, len(a.cfg.Routes))
	for _, rt := range a.cfg.Routes {
		if rt.Strategy == "local" || rt.Fallback {
			return true
		}
		routed[rt.Service] = true
	}
	for _, svc := range []string{
		enrichment.ServiceKnownIdentifiers,
		enrichment.ServiceProductInfo,
		enrichment.ServiceWBProductInfo,
	} {
		if !routed[svc] {
			return true
		}
	}
	return false
}

func (a *app) runScan(ctx context.Context, target, host string, out io.Writer) error {
	client, err := a.service(ctx)
	if err != nil {
		return err
	}

	f := fetcher.New(
		fetcher.WithAllowPrivate(),
		fetcher.WithUserAgent(a.cfg.Fetch.UserAgent),
		fetcher.WithMaxBody(a.cfg.Fetch.MaxBody),
		fetcher.WithClient(&http.Client{Timeout: a.cfg.Fetch.Timeout}),
		fetcher.WithLogger(a.logger))
	res, err := f.Load(ctx, target)
	if err != nil {
		return err
	}
	if host == "" {
		host = res.Host
	}
	if !res.Sufficient {
		a.logger.Warn("mplens: page looks script-rendered, try -watch", "url", res.URL)
	}

	return scan(ctx, host, res, client, a.cfg.Overlay, out, a.logger)
}

// scan runs one engine over a fetched page and writes a markdown report.
func scan(ctx context.Context, host string, res *fetcher.Result, svc enrichment.Service, cfg overlay.Config, out io.Writer, logger *slog.Logger) error {
	eng := overlay.New(host, res.Doc, svc, render.NewTextPresenter(out, logger), cfg, overlay.WithLogger(logger))
	if !eng.Active() {
		return fmt.Errorf("%s: %w (use -host)", host, overlay.ErrInactive)
	}
	eng.Start(ctx)
	defer eng.Stop()

	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := eng.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("known identifiers: %w", err)
	}

	found, err := eng.Annotated()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s\n\n%d identifiers found\n\n", res.URL, len(found))
	for _, f := range found {
		model, err := eng.Lookup(ctx, f.Parsed)
		if err != nil {
			return err
		}
		md, err := render.Markdown(model)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "## %s\n\n%s\n\n", f.Parsed.Full, md)
	}
	return nil
}

func (a *app) runWatch(ctx context.Context, pageURL, host string) error {
	client, err := a.service(ctx)
	if err != nil {
		return err
	}
	b, err := livepage.Launch(ctx, livepage.BrowserConfig{
		Remote:           a.cfg.Browser.Remote,
		Headful:          a.cfg.Browser.Headful,
		Stealth:          a.cfg.Browser.Stealth,
		ResourceBlocking: a.cfg.Browser.ResourceBlocking,
		NavigateTimeout:  a.cfg.Browser.NavigateTimeout,
		Logger:           a.logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	opts := []livepage.SessionOption{livepage.WithLogger(a.logger)}
	if host != "" {
		opts = append(opts, livepage.WithHost(host))
	}
	sess, err := livepage.Open(ctx, b, pageURL, client, a.cfg.Overlay, opts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	<-ctx.Done()
	return nil
}

func (a *app) close() {
	if a.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("mplens: http shutdown", "error", err)
		}
		cancel()
	}
	if a.router != nil {
		a.router.Close()
	}
	if a.backend != nil {
		a.stopWatch()
		a.backend.Close()
	}
	if a.metrics != nil {
		trace.SetRecorder(nil)
		a.metrics.Close()
		a.metricsDB.Close()
	}
}
