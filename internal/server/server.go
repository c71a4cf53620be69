package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conductor/internal/config"
	"conductor/internal/logging"
	"conductor/internal/orchestrator"
)

// Server exposes the orchestrator over HTTP: a JSON API for workflow
// lifecycle, SSE and websocket streams for live events, and Prometheus
// metrics.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
}

// NewServer wires routes onto a fresh gin engine.
func NewServer(cfg config.ServerConfig, orch *orchestrator.Orchestrator, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{
		orch:   orch,
		logger: logging.OrNop(logger),
		engine: engine,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      engine,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming endpoints stay open
		},
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.POST("/workflows", s.handleStartWorkflow)
		api.GET("/workflows", s.handleListWorkflows)
		api.GET("/workflows/:id", s.handleGetWorkflow)
		api.POST("/workflows/:id/view", s.handleViewWorkflow)
		api.GET("/notifications", s.handleNotifications)
		api.GET("/events/:id", s.handleEventStream)
	}

	s.engine.GET("/ws/events/:id", s.handleEventSocket)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"active_workflows": s.orch.Gate().Active(),
	})
}
