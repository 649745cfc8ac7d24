package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/amoylab/gameroom/internal/auth"
	"github.com/amoylab/gameroom/internal/common/errorx"
	"github.com/amoylab/gameroom/internal/core"
	"github.com/amoylab/gameroom/internal/session"
	"github.com/amoylab/gameroom/pkg/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionService is the part of core.Controller the REST API reads.
type SessionService interface {
	Overview(ctx context.Context, identity string) (*core.Overview, error)
	Lookup(ctx context.Context, identity string) (*session.Session, session.Role, error)
	ActiveSessions(ctx context.Context) ([]*core.Summary, error)
	Stats(ctx context.Context, id string) (*core.Stats, error)
	Cleanup(ctx context.Context, maxIdle time.Duration) (reclaimed, purged int, err error)
	SummaryOf(s *session.Session) *core.Summary
}

var _ SessionService = (*core.Controller)(nil)

// CleanupRequest is the body of POST /api/sessions/cleanup
type CleanupRequest struct {
	MinutesInactive int `json:"minutes_inactive"`
}

// RecoverResponse is the body of GET /api/sessions/recover
type RecoverResponse struct {
	Session *core.Summary `json:"session"`
	Role    session.Role  `json:"role"`
}

// SessionHandler serves the session REST API
type SessionHandler struct {
	logger  *zap.Logger
	service SessionService
	errors  *errorx.ErrorHandler
	hub     *Hub
	maxIdle time.Duration
	started time.Time
}

// NewSessionHandler creates a session handler. maxIdle is the default
// inactivity window for cleanup requests that omit one.
func NewSessionHandler(logger *zap.Logger, service SessionService, hub *Hub, maxIdle time.Duration) *SessionHandler {
	return &SessionHandler{
		logger:  logger.Named("rest"),
		service: service,
		errors:  errorx.NewErrorHandler(logger),
		hub:     hub,
		maxIdle: maxIdle,
		started: time.Now(),
	}
}

func (h *SessionHandler) identity(c *gin.Context) (*auth.Identity, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok {
		h.errors.HandleError(c, errorx.ErrUnauthenticated)
	}
	return id, ok
}

// HandleStatus serves GET /api/sessions/status
func (h *SessionHandler) HandleStatus(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	overview, err := h.service.Overview(c.Request.Context(), id.ID)
	if err != nil {
		h.errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// HandleRecover serves GET /api/sessions/recover
func (h *SessionHandler) HandleRecover(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	s, role, err := h.service.Lookup(c.Request.Context(), id.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			err = errorx.ErrSessionNotFound.WithMessage("no recoverable session for this identity")
		}
		h.errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, RecoverResponse{Session: h.service.SummaryOf(s), Role: role})
}

// HandleActive serves GET /api/sessions/active
func (h *SessionHandler) HandleActive(c *gin.Context) {
	sessions, err := h.service.ActiveSessions(c.Request.Context())
	if err != nil {
		h.errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// HandleStats serves GET /api/sessions/:id/stats
func (h *SessionHandler) HandleStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleCleanup serves POST /api/sessions/cleanup
func (h *SessionHandler) HandleCleanup(c *gin.Context) {
	var req CleanupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.errors.HandleError(c, errorx.ValidationError("body", err.Error()))
			return
		}
	}
	if req.MinutesInactive < 0 {
		h.errors.HandleError(c, errorx.ValidationError("minutes_inactive", "must not be negative"))
		return
	}

	maxIdle := h.maxIdle
	if req.MinutesInactive > 0 {
		maxIdle = time.Duration(req.MinutesInactive) * time.Minute
	}
	reclaimed, purged, err := h.service.Cleanup(c.Request.Context(), maxIdle)
	if err != nil {
		h.errors.HandleError(c, err)
		return
	}

	h.logger.Info("manual cleanup",
		zap.Duration("max_idle", maxIdle),
		zap.Int("reclaimed", reclaimed),
		zap.Int("purged", purged))
	c.JSON(http.StatusOK, gin.H{"reclaimed": reclaimed, "purged": purged})
}

// HandleHealth serves GET /api/health
func (h *SessionHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     version.Get(),
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"connections": h.hub.Count(),
	})
}
