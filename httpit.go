// Package httpit locates, launches and supervises the webfsd static file server.
//
// A Server wraps exactly one webfsd process:
//
//	cfg := httpit.DefaultConfig()
//	cfg.Root = "./public"
//	srv, err := httpit.New(cfg)
//	...
//	err = srv.ServeForever(context.Background()) // until SIGINT/SIGTERM
package httpit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/httpit/internal/auth"
	"github.com/loykin/httpit/internal/config"
	"github.com/loykin/httpit/internal/env"
	"github.com/loykin/httpit/internal/history"
	"github.com/loykin/httpit/internal/history/factory"
	"github.com/loykin/httpit/internal/locator"
	"github.com/loykin/httpit/internal/metrics"
	iapi "github.com/loykin/httpit/internal/server"
	"github.com/loykin/httpit/internal/supervisor"
	apitls "github.com/loykin/httpit/internal/tls"
)

// Re-export core types for external consumers.

type Config = config.ServerConfig

type Status = supervisor.Status

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Location = locator.Location

type TLSConfig = apitls.Config

type AuthConfig = auth.Config

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
	ErrStartFailed    = supervisor.ErrStartFailed
	ErrExited         = supervisor.ErrExited
	ErrRootMissing    = supervisor.ErrRootMissing
	ErrBinaryNotFound = locator.ErrNotFound
	ErrInvalidPort    = config.ErrInvalidPort
	ErrInvalidAuth    = config.ErrInvalidAuth
)

// DefaultConfig returns the webfsd defaults (port 8000, current directory, foreground).
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a toml, yaml or json file on top of the defaults and HTTPIT_* variables.
func LoadConfig(path string) (Config, error) {
	l := config.NewLoader()
	if err := l.ReadFile(path); err != nil {
		return Config{}, err
	}
	return l.Config()
}

// FindBinary runs the webfsd search without starting anything.
func FindBinary() (Location, error) { return locator.New().Find() }

type options struct {
	logger  *slog.Logger
	sinks   []history.Sink
	dsns    []string
	env     []string
	locator *locator.Locator
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithHistory records start/stop/exit events in the given sinks.
func WithHistory(sinks ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithHistoryDSN opens sinks from DSNs (sqlite path, postgres://, clickhouse://).
// They are closed by Server.Close.
func WithHistoryDSN(dsns ...string) Option {
	return func(o *options) { o.dsns = append(o.dsns, dsns...) }
}

// WithEnv adds KEY=VALUE entries to every webfsd start. Values may reference ${VAR}.
func WithEnv(kvs ...string) Option { return func(o *options) { o.env = append(o.env, kvs...) } }

// WithBinaryLocator replaces the default webfsd search.
func WithBinaryLocator(l *locator.Locator) Option { return func(o *options) { o.locator = l } }

// Server is a facade over the internal supervisor.
type Server struct {
	inner   *supervisor.Supervisor
	closers []io.Closer
}

// New validates c and prepares a server. Nothing is spawned until Start or Serve.
func New(c Config, opts ...Option) (*Server, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	e := env.New()
	e.FromOS()
	if err := e.SetAll(o.env); err != nil {
		return nil, err
	}

	s := &Server{}
	sinks := append([]history.Sink(nil), o.sinks...)
	for _, dsn := range o.dsns {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = s.closeSinks()
			return nil, err
		}
		sinks = append(sinks, sink)
		if c, ok := sink.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
	}
	inner, err := supervisor.New(c, supervisor.Options{
		Locator: o.locator,
		Env:     e,
		Logger:  o.logger,
		History: sinks,
	})
	if err != nil {
		_ = s.closeSinks()
		return nil, err
	}
	s.inner = inner
	return s, nil
}

func (s *Server) Config() Config  { return s.inner.Config() }
func (s *Server) Start() error    { return s.inner.Start() }
func (s *Server) Stop() error     { return s.inner.Stop() }
func (s *Server) Restart() error  { return s.inner.Restart() }
func (s *Server) IsRunning() bool { return s.inner.IsRunning() }
func (s *Server) Status() Status  { return s.inner.Status() }
func (s *Server) PID() int        { return s.inner.PID() }

// Serve starts webfsd and blocks until ctx is done or webfsd stops running.
func (s *Server) Serve(ctx context.Context) error { return s.inner.Serve(ctx) }

// ServeForever is Serve with SIGINT and SIGTERM turned into cancellation.
// The previous signal disposition is restored on return.
func (s *Server) ServeForever(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.inner.Serve(ctx)
}

// Close stops webfsd if it is running, removes an extracted binary and closes history sinks.
func (s *Server) Close() error {
	return errors.Join(s.inner.Close(), s.closeSinks())
}

func (s *Server) closeSinks() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// CollectResources registers CPU/memory gauges for the webfsd process and samples
// them every interval until ctx is done.
func (s *Server) CollectResources(ctx context.Context, r prometheus.Registerer, interval time.Duration) error {
	rc := metrics.NewResourceCollector(s.inner.Config().Name(), interval, s.inner.PID)
	if err := rc.Register(r); err != nil {
		return err
	}
	go rc.Run(ctx)
	return nil
}

// Control API

type ControlOptions struct {
	BasePath string
	Auth     AuthConfig
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// ControlHandler returns the control API (status/start/stop/restart/metrics) for embedding.
func ControlHandler(s *Server, o ControlOptions) (http.Handler, error) {
	mw, err := auth.NewMiddleware(o.Auth)
	if err != nil {
		return nil, err
	}
	opts := []iapi.Option{iapi.WithMiddleware(mw.GinAuth())}
	if o.Gatherer != nil {
		opts = append(opts, iapi.WithGatherer(o.Gatherer))
	}
	if o.Logger != nil {
		opts = append(opts, iapi.WithLogger(o.Logger))
	}
	return iapi.NewRouter(s.inner, o.BasePath, opts...).Handler(), nil
}

// ControlServer is a running control API listener.
type ControlServer = iapi.Server

// NewControlServer listens on addr and serves the control API in the background.
func NewControlServer(addr string, s *Server, o ControlOptions, tlsCfg TLSConfig) (*ControlServer, error) {
	h, err := ControlHandler(s, o)
	if err != nil {
		return nil, err
	}
	tc, err := apitls.Setup(tlsCfg)
	if err != nil {
		return nil, err
	}
	return iapi.Listen(addr, h, tc)
}

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics serves /metrics from the default registry on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
