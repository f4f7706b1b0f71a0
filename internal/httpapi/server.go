// Package httpapi exposes the broadcast engine over HTTP: submit, poll,
// list, history. It is the observer boundary — handlers are short,
// side-effect-free lookups except for submit.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"mailcast/internal/broadcast"
	"mailcast/internal/storage"
	logx "mailcast/pkg/logx"
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type Server struct {
	cfg   Config
	svc   *broadcast.Service
	store storage.Store
	log   logx.Logger

	http *http.Server
}

func New(cfg Config, svc *broadcast.Service, store storage.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, svc: svc, store: store, log: log}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLog(), gin.Recovery())

	cc := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		cc.AllowOrigins = cfg.CORSOrigins
	} else {
		cc.AllowAllOrigins = true
	}
	cc.AllowHeaders = []string{"Content-Type", "Authorization"}
	cc.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(cc))

	r.GET("/healthz", s.handleHealth)
	api := r.Group("/api")
	{
		api.POST("/broadcasts", s.handleSubmit)
		api.GET("/broadcasts", s.handleList)
		api.GET("/broadcasts/:id", s.handleStatus)
		api.GET("/history", s.handleHistory)
	}

	s.http = &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
	}
	return s
}

// Handler exposes the router for tests (httptest against the mux, no socket).
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start blocks serving HTTP until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(sctx)
}

// requestLog is a minimal structured access log; gin's own logger writes
// plain text to stdout, which would bypass the zerolog sinks.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !s.log.Enabled(logx.LevelDebug) {
			return
		}
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)))
	}
}
