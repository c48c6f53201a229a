// Package httpapi exposes the agent's trigger and debug endpoints:
//
//	POST /api/v1/run     run the pipeline now and return its summary
//	GET  /api/v1/health  liveness plus the time of the last run
//	GET  /api/v1/last    summary of the last successful run
//	GET  /api/v1/certs   TLS certificate status of the upstream endpoints
//	GET  /metrics        last run's registry in text exposition format
package httpapi

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/flarewatch/flarewatch/agent/internal/config"
	"github.com/flarewatch/flarewatch/agent/internal/registry"
	"github.com/flarewatch/flarewatch/agent/internal/runner"
	"github.com/flarewatch/flarewatch/agent/internal/security"
)

// Runner is the narrow runner contract the API needs.
type Runner interface {
	RunOnce(ctx context.Context) (*runner.Summary, error)
	Last() (*runner.Summary, []*dto.MetricFamily)
	Config() config.AgentConfig
}

// Server serves the agent API.
type Server struct {
	addr      string
	runner    Runner
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, r Runner) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		runner:    r,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler returns the routed gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.HandleMethodNotAllowed = true

	v1 := r.Group("/api/v1")
	v1.POST("/run", s.handleRun)
	v1.GET("/health", s.handleHealth)
	v1.GET("/last", s.handleLast)
	v1.GET("/certs", s.handleCerts)
	r.GET("/metrics", s.handleMetrics)
	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("httpapi: listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("httpapi: serve", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRun(c *gin.Context) {
	sum, err := s.runner.RunOnce(c.Request.Context())
	if err != nil {
		slog.Error("httpapi: triggered run failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if last, _ := s.runner.Last(); last != nil {
		body["last_run"] = last.StartedAt
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleLast(c *gin.Context) {
	last, _ := s.runner.Last()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed run"})
		return
	}
	c.JSON(http.StatusOK, last)
}

func (s *Server) handleCerts(c *gin.Context) {
	targets := security.Targets(s.runner.Config())
	c.JSON(http.StatusOK, security.CheckAll(c.Request.Context(), targets))
}

func (s *Server) handleMetrics(c *gin.Context) {
	_, families := s.runner.Last()
	var buf bytes.Buffer
	if err := registry.WriteText(&buf, families); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, string(expfmt.NewFormat(expfmt.TypeTextPlain)), buf.Bytes())
}
