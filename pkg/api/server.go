// Package api exposes the HTTP surface consumed by the frontend: auth,
// connections, agents, chat sessions, and runs.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/queryhive/queryhive/pkg/database"
	"github.com/queryhive/queryhive/pkg/queue"
	"github.com/queryhive/queryhive/pkg/services"
)

// Deps carries the services behind the HTTP handlers.
type Deps struct {
	Users       *services.UserService
	Connections *services.ConnectionService
	Agents      *services.AgentService
	Sessions    *services.ChatSessionService
	Runs        *services.RunService
	DB          *database.Client
	Pool        *queue.WorkerPool
	JWTSecret   string
	Logger      *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	deps   Deps
	router *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the server and its routes.
func NewServer(port int, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:   deps,
		logger: deps.Logger.With("component", "api"),
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the underlying gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)

	auth := r.Group("/auth")
	{
		auth.POST("/register", s.handleRegister)
		auth.POST("/login", s.handleLogin)
		auth.GET("/me", s.requireAuth(), s.handleMe)
	}

	protected := r.Group("/", s.requireAuth())
	{
		protected.POST("/connections/test", s.handleConnectionTest)
		protected.POST("/connections/", s.handleConnectionCreate)
		protected.GET("/connections/", s.handleConnectionList)
		protected.GET("/connections/:id", s.handleConnectionGet)
		protected.PATCH("/connections/:id", s.handleConnectionUpdate)
		protected.DELETE("/connections/:id", s.handleConnectionDelete)

		protected.POST("/agents/", s.handleAgentCreate)
		protected.GET("/agents/", s.handleAgentList)
		protected.GET("/agents/:id", s.handleAgentGet)
		protected.PATCH("/agents/:id", s.handleAgentUpdate)
		protected.DELETE("/agents/:id", s.handleAgentDelete)
		protected.POST("/agents/:id/run", s.handleRunCreate)
		protected.GET("/agents/:id/chat-sessions", s.handleAgentSessions)

		protected.GET("/runs/", s.handleRunList)
		protected.GET("/runs/:id", s.handleRunGet)
		protected.POST("/runs/:id/cancel", s.handleRunCancel)

		protected.POST("/chat-sessions/", s.handleSessionCreate)
		protected.GET("/chat-sessions/:id", s.handleSessionGet)
		protected.GET("/chat-sessions/:id/messages", s.handleSessionMessages)
		protected.PUT("/chat-sessions/:id", s.handleSessionArchive)
		protected.DELETE("/chat-sessions/:id", s.handleSessionDelete)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.DB.Health(c.Request.Context())
	code := http.StatusOK
	if !status.Reachable {
		code = http.StatusServiceUnavailable
	}

	body := gin.H{"database": status}
	if s.deps.Pool != nil {
		body["queue"] = s.deps.Pool.Health(c.Request.Context())
	}
	c.JSON(code, body)
}
