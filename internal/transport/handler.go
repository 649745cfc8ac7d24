package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amoylab/gameroom/internal/auth"
	"github.com/amoylab/gameroom/internal/common/config"
	"github.com/amoylab/gameroom/internal/common/errorx"
	"github.com/amoylab/gameroom/internal/core"
	"github.com/amoylab/gameroom/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Inbound frame types
const (
	FrameSubmitTransition = "submit_transition"
	FrameRequestState     = "request_state"
	FrameRequestStats     = "request_stats"
	FrameResetActivity    = "reset_activity"
	FrameChat             = "chat"
	FrameReady            = "ready"
)

// Controller is the part of core.Controller the transport drives.
type Controller interface {
	Connect(ctx context.Context, identity, channel, displayName string) (*core.Assignment, error)
	Disconnect(ctx context.Context, channel string) error
	SubmitTransition(ctx context.Context, channel string, payload json.RawMessage) error
	RequestState(ctx context.Context, channel string) error
	RequestStats(ctx context.Context, channel string) error
	ResetActivity(ctx context.Context, channel string) error
	SendChat(ctx context.Context, channel, text string) error
	MarkReady(ctx context.Context, channel string) error
	ReportError(channel string, err error)
}

var _ Controller = (*core.Controller)(nil)

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WebSocketHandler upgrades authenticated requests and pumps frames between
// the connection and the controller.
type WebSocketHandler struct {
	logger     *zap.Logger
	hub        *Hub
	controller Controller
	verifier   auth.Verifier
	upgrader   websocket.Upgrader
	cfg        config.ServerConfig
}

// NewWebSocketHandler creates a websocket handler
func NewWebSocketHandler(logger *zap.Logger, hub *Hub, controller Controller, verifier auth.Verifier, cfg config.ServerConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:     logger.Named("websocket"),
		hub:        hub,
		controller: controller,
		verifier:   verifier,
		cfg:        cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handle serves GET /ws
func (h *WebSocketHandler) Handle(c *gin.Context) {
	identity, err := h.verifier.Verify(c.Request.Context(), auth.TokenFromRequest(c.Request))
	if err != nil {
		h.logger.Debug("rejected websocket handshake", zap.Error(err))
		apiErr := errorx.ErrUnauthenticated.WithMessage("a valid identity token is required")
		c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{"error": apiErr})
		return
	}

	// browsers passing the token as a subprotocol expect one echoed back
	var header http.Header
	if protocols := websocket.Subprotocols(c.Request); len(protocols) > 0 {
		header = http.Header{"Sec-WebSocket-Protocol": {protocols[0]}}
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket connection",
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Error(err))
		return
	}

	client := newClient(h.logger, conn, uuid.NewString(), identity.ID, h.cfg.SendQueueSize)
	h.hub.Register(client)
	go client.writePump(h.cfg.PingInterval)

	ctx := context.WithoutCancel(c.Request.Context())
	defer func() {
		h.hub.Unregister(client)
		if err := h.controller.Disconnect(ctx, client.channel); err != nil {
			client.logger.Warn("disconnect failed", zap.Error(err))
		}
		<-client.done
	}()

	if _, err := h.controller.Connect(ctx, identity.ID, client.channel, identity.DisplayName); err != nil {
		client.logger.Warn("connect failed", zap.Error(err))
		h.controller.ReportError(client.channel, err)
		return
	}

	client.readPump(h.cfg.PongWait, func(msg []byte) {
		if err := h.dispatch(ctx, client.channel, msg); err != nil {
			h.controller.ReportError(client.channel, err)
		}
	})
}

func (h *WebSocketHandler) dispatch(ctx context.Context, channel string, msg []byte) error {
	var frame inboundFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return fmt.Errorf("%w: malformed frame", session.ErrInvalidInput)
	}

	switch frame.Type {
	case FrameSubmitTransition:
		var data struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := decodeData(frame.Data, &data); err != nil {
			return err
		}
		if len(data.Payload) == 0 || string(data.Payload) == "null" {
			return fmt.Errorf("%w: payload is required", session.ErrInvalidInput)
		}
		return h.controller.SubmitTransition(ctx, channel, data.Payload)
	case FrameRequestState:
		return h.controller.RequestState(ctx, channel)
	case FrameRequestStats:
		return h.controller.RequestStats(ctx, channel)
	case FrameResetActivity:
		return h.controller.ResetActivity(ctx, channel)
	case FrameChat:
		var data struct {
			Text string `json:"text"`
		}
		if err := decodeData(frame.Data, &data); err != nil {
			return err
		}
		return h.controller.SendChat(ctx, channel, data.Text)
	case FrameReady:
		return h.controller.MarkReady(ctx, channel)
	default:
		return fmt.Errorf("%w: unknown frame type %q", session.ErrInvalidInput, frame.Type)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: data is required", session.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed data", session.ErrInvalidInput)
	}
	return nil
}
