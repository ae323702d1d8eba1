package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KevinKickass/BragerSync/internal/api/websocket"
	"github.com/KevinKickass/BragerSync/internal/auth"
	"github.com/KevinKickass/BragerSync/internal/config"
	"github.com/KevinKickass/BragerSync/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	lm      interfaces.LifecycleManager
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
	keyAuth *auth.KeyAuth
	metrics http.Handler
}

// NewServer builds the HTTP API. keyAuth may be nil for an open API and
// metrics may be nil to leave /metrics unrouted.
func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, keyAuth *auth.KeyAuth, metrics http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:  gin.New(),
		lm:      lm,
		logger:  logger,
		wsHub:   wsHub,
		keyAuth: keyAuth,
		metrics: metrics,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// writes wait for the backend; the pipeline enforces its own deadline
		WriteTimeout: cfg.Backend.WriteTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener synchronously so port errors surface to the
// caller, then serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes
	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(s.keyAuth.Middleware())
	{
		parameters := v1.Group("/parameters")
		{
			parameters.GET("", s.listParameters)
			parameters.GET("/:symbol", s.getParameter)
			parameters.POST("/:symbol/write", s.writeParameter)
		}

		v1.GET("/session", s.getSession)
		v1.GET("/diagnostics", s.getDiagnostics)
		v1.GET("/system/status", s.getSystemStatus)

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public). Reports 200 while the process runs; session
// liveness is exposed separately.
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"session":   s.lm.Service().SessionStatus().State,
		"timestamp": time.Now().Unix(),
	})
}
