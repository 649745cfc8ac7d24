package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amoylab/gameroom/internal/auth"
	"github.com/amoylab/gameroom/internal/common/config"
	"github.com/amoylab/gameroom/internal/common/errorx"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Metrics is the HTTP instrumentation the router mounts when enabled.
type Metrics interface {
	Middleware() gin.HandlerFunc
	Handler() http.Handler
}

// RouterDeps are the collaborators of the HTTP router
type RouterDeps struct {
	Logger    *zap.Logger
	Config    *config.GameRoomConfig
	Verifier  auth.Verifier
	Sessions  *SessionHandler
	WebSocket *WebSocketHandler
	Metrics   Metrics // nil disables /metrics
}

// NewRouter builds the gin engine serving /ws and the REST API
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger.Named("http")
	errs := errorx.NewErrorHandler(logger)

	r := gin.New()
	r.Use(errs.RecoveryMiddleware(), loggerMiddleware(logger), corsMiddleware(deps.Config.Server.AllowedOrigins))
	if deps.Config.Tracing.Enabled {
		r.Use(otelgin.Middleware(deps.Config.Tracing.ServiceName))
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
		r.GET(deps.Config.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
	}

	r.GET("/ws", deps.WebSocket.Handle)
	r.GET("/api/health", deps.Sessions.HandleHealth)

	api := r.Group("/api/sessions", auth.Middleware(deps.Verifier), errs.ErrorMiddleware())
	{
		api.GET("/status", deps.Sessions.HandleStatus)
		api.GET("/recover", deps.Sessions.HandleRecover)
		api.GET("/active", deps.Sessions.HandleActive)
		api.GET("/:id/stats", deps.Sessions.HandleStats)
		api.POST("/cleanup", deps.Sessions.HandleCleanup)
	}
	return r
}

// loggerMiddleware logs each request once it completes
func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// corsMiddleware answers browser preflight requests for allowed origins. An
// empty list allows every origin.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := func(origin string) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if allowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Server runs the HTTP listener
type Server struct {
	logger *zap.Logger
	hub    *Hub
	http   *http.Server
}

// NewServer wraps handler in an http.Server listening on port
func NewServer(logger *zap.Logger, hub *Hub, handler http.Handler, port int) *Server {
	return &Server{
		logger: logger.Named("server"),
		hub:    hub,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every websocket client.
// Hijacked connections are not tracked by http.Server, so the hub closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.CloseAll()
	return err
}
