// Package httpapi exposes a session to one local rendering client over
// JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"segtag/internal/blob"
	"segtag/internal/export"
	"segtag/internal/observability"
	"segtag/internal/session"
)

// RootOpener turns a root request into a store.
type RootOpener func(ctx context.Context, cfg blob.Config) (blob.Store, error)

// Options wires the server. Only Session is required.
type Options struct {
	Session    *session.Session
	Exports    *export.Worker
	Metrics    *observability.Metrics
	Instrument observability.Instrument
	OpenRoot   RootOpener
	// ExportLimit throttles POST /v1/exports. Nil means unlimited.
	ExportLimit *rate.Limiter
	Logger      *slog.Logger
}

// Server holds the handlers.
type Server struct {
	sess     *session.Session
	exports  *export.Worker
	metrics  *observability.Metrics
	instr    observability.Instrument
	openRoot RootOpener
	limit    *rate.Limiter
	log      *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	Reason       string `json:"reason,omitempty"`
	ExpectedPath string `json:"expected_path,omitempty"`
}

// New builds a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	open := opts.OpenRoot
	if open == nil {
		open = func(ctx context.Context, cfg blob.Config) (blob.Store, error) {
			cfg.Create = false
			return blob.Open(ctx, cfg)
		}
	}
	return &Server{
		sess:     opts.Session,
		exports:  opts.Exports,
		metrics:  opts.Metrics,
		instr:    opts.Instrument,
		openRoot: open,
		limit:    opts.ExportLimit,
		log:      logger,
		done:     make(chan struct{}),
	}
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())
	s.RegisterRoutes(&r.RouterGroup)
	return r
}

// RegisterRoutes mounts the API on rg.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", s.handleHealth)
	if s.metrics != nil {
		rg.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	v1 := rg.Group("/v1")
	{
		v1.GET("/categories", s.handleCategories)
		v1.GET("/images", s.handleImages)
		v1.GET("/state", s.handleState)
		v1.GET("/events", s.handleEvents)
		v1.PUT("/selection", s.handleSelection)
		v1.POST("/next", s.handleNext)
		v1.POST("/prev", s.handlePrev)
		v1.POST("/label", s.handleLabel)
		v1.PUT("/display", s.handleDisplay)

		v1.POST("/document", s.handleDocument)
		v1.POST("/tags", s.handleTags)
		v1.GET("/export", s.handleExport)
		v1.GET("/export/tags", s.handleExportTags)
		v1.POST("/exports", s.handleEnqueueExport)
		v1.GET("/exports/:id", s.handleGetExport)

		v1.GET("/assets/main", s.handleAsset(session.AssetMain))
		v1.GET("/assets/mask", s.handleAsset(session.AssetMask))
		v1.PUT("/root", s.handleSetRoot)
		v1.DELETE("/root", s.handleClearRoot)
	}
}

// observe logs and counts every request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d := time.Since(start)
		route := c.FullPath()
		status := c.Writer.Status()
		if s.metrics != nil {
			s.metrics.ObserveHTTP(c.Request.Method, route, status, d)
		}
		s.log.Debug("http request", "method", c.Request.Method, "route", route, "status", status, "duration_ms", d.Milliseconds())
	}
}

func (s *Server) fail(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "loaded": s.sess.Dataset() != nil})
}
