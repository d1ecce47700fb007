package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/httpit/internal/metrics"
	"github.com/loykin/httpit/internal/supervisor"
)

// Controller is the subset of the supervisor exposed over HTTP.
type Controller interface {
	Start() error
	Stop() error
	Restart() error
	Status() supervisor.Status
}

// Router provides embeddable HTTP handlers controlling one webfsd.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start
//	POST {basePath}/stop
//	POST {basePath}/restart
//	GET  {basePath}/metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	gatherer prometheus.Gatherer
	mw       []gin.HandlerFunc
	log      *slog.Logger
}

type Option func(*Router)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(r *Router) { r.gatherer = g } }

// WithMiddleware adds handlers in front of every endpoint, e.g. authentication.
func WithMiddleware(h ...gin.HandlerFunc) Option {
	return func(r *Router) { r.mw = append(r.mw, h...) }
}

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

// NewRouter constructs a Router. Example basePath "/api" yields /api/status etc.
func NewRouter(ctl Controller, basePath string, opts ...Option) *Router {
	r := &Router{ctl: ctl, basePath: sanitizeBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	group := g.Group(r.basePath, r.mw...)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.action("start", r.ctl.Start))
	group.POST("/stop", r.action("stop", r.ctl.Stop))
	group.POST("/restart", r.action("restart", r.ctl.Restart))

	mh := metrics.Handler()
	if r.gatherer != nil {
		mh = metrics.HandlerFor(r.gatherer)
	}
	group.GET("/metrics", gin.WrapH(mh))
	return g
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("control api",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type actionResp struct {
	OK     bool              `json:"ok"`
	Status supervisor.Status `json:"status"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status())
}

func (r *Router) action(name string, fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			r.log.Warn("control api action failed", "action", name, "err", err)
			writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, actionResp{OK: true, Status: r.ctl.Status()})
	}
}

// Server is a running control API listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
	err chan error
}

// Listen binds addr and serves h in the background. With tlsCfg the listener speaks HTTPS.
func Listen(addr string, h http.Handler, tlsCfg *tls.Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// restart waits for stop and start windows
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ln:  ln,
		err: make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.err <- err
		close(s.err)
	}()
	return s, nil
}

// Addr is the bound address; useful with port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Done yields the serve error (nil after Shutdown) once the listener stops.
func (s *Server) Done() <-chan error { return s.err }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
