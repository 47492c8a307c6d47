// Package server exposes the delivery engine to the rendering layer over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitrine-media/vitrine/pkg/config"
	"github.com/vitrine-media/vitrine/pkg/delivery"
	"github.com/vitrine-media/vitrine/pkg/models"
	"github.com/vitrine-media/vitrine/pkg/router"
)

// Server is the vitrine HTTP API.
type Server struct {
	cfg      *config.Config
	engine   *delivery.Engine
	echo     *echo.Echo
	logger   *log.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request error logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a Server around engine.
func New(cfg *config.Config, engine *delivery.Engine, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		echo:     echo.New(),
		logger:   log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1")
	v1.GET("/snapshots/:key", s.handleSnapshot)
	v1.POST("/snapshots/:key/refresh", s.handleRefresh)
	v1.POST("/events", s.handleRecordEvent)
	v1.GET("/events", s.handleRecentEvents)
	v1.GET("/interest", s.handleInterest)
	v1.POST("/prefetch", s.handlePrefetch)
	v1.GET("/cache/stats", s.handleCacheStats)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("vitrine listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]string{"error": msg})
	}
}

type viewResponse struct {
	Key      string           `json:"key"`
	Loading  bool             `json:"loading"`
	Stale    bool             `json:"stale"`
	Error    string           `json:"error,omitempty"`
	Snapshot *models.Snapshot `json:"snapshot,omitempty"`
}

func newViewResponse(key string, v delivery.View) viewResponse {
	r := viewResponse{Key: key, Loading: v.Loading, Stale: v.Stale, Snapshot: v.Data}
	if v.Err != nil {
		r.Error = v.Err.Error()
	}
	return r
}

func (s *Server) consumer(c echo.Context) (*delivery.Consumer, error) {
	key, err := url.PathUnescape(c.Param("key"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "malformed key")
	}
	cons, err := s.engine.Consumer(key)
	if errors.Is(err, router.ErrUnknownKey) {
		return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return cons, err
}

func (s *Server) handleSnapshot(c echo.Context) error {
	cons, err := s.consumer(c)
	if err != nil {
		return err
	}
	v := cons.Load(c.Request().Context())
	if v.Data == nil && v.Err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, v.Err.Error()).SetInternal(v.Err)
	}
	return c.JSON(http.StatusOK, newViewResponse(cons.Key(), v))
}

func (s *Server) handleRefresh(c echo.Context) error {
	cons, err := s.consumer(c)
	if err != nil {
		return err
	}
	v, err := cons.ForceRefresh(c.Request().Context())
	if err != nil && v.Data == nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	resp := newViewResponse(cons.Key(), v)
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// eventRequest is the wire form of a behavior event. Sampled scroll events
// go through the scroll sampler instead of being recorded directly.
type eventRequest struct {
	Kind         models.EventKind `json:"kind"`
	Topic        string           `json:"topic"`
	DepthPercent float64          `json:"depth_percent"`
	DurationMs   int64            `json:"duration_ms"`
	Sampled      bool             `json:"sampled"`
}

func (s *Server) handleRecordEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event body")
	}
	if !req.Kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown event kind %q", req.Kind))
	}
	if req.Kind == models.EventScroll && req.Sampled {
		s.engine.ObserveScroll(req.DepthPercent)
		return c.NoContent(http.StatusAccepted)
	}
	s.engine.RecordEvent(models.BehaviorEvent{
		Kind:         req.Kind,
		Topic:        req.Topic,
		DepthPercent: req.DepthPercent,
		Duration:     time.Duration(req.DurationMs) * time.Millisecond,
	})
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleRecentEvents(c echo.Context) error {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.engine.RecentEvents(limit))
}

func (s *Server) handleInterest(c echo.Context) error {
	limit, err := queryInt(c, "limit", s.cfg.Prefetch.TopK)
	if err != nil {
		return err
	}
	targets := s.engine.TopTargets(limit)
	if targets == nil {
		targets = []models.PrefetchTarget{}
	}
	return c.JSON(http.StatusOK, targets)
}

func (s *Server) handlePrefetch(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Prefetch(context.WithoutCancel(c.Request().Context())))
}

func (s *Server) handleCacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Stats())
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
	}
	return n, nil
}
