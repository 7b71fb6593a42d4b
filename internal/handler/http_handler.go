package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/filter"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/service"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/response"
)

// Handler serves the chat session over HTTP.
type Handler struct {
	session service.ChatSession
}

// NewHandler creates a new HTTP handler.
func NewHandler(session service.ChatSession) *Handler {
	return &Handler{session: session}
}

// SendRequest is the body of POST /messages.
type SendRequest struct {
	Body string `json:"body"`
}

// StatusResponse describes the session as seen by the UI.
type StatusResponse struct {
	Channel    domain.Channel   `json:"channel"`
	Identity   domain.Identity  `json:"identity"`
	Connection domain.ConnState `json:"connection"`
	SlowMode   domain.SlowMode  `json:"slow_mode"`
	Stats      domain.Stats     `json:"stats"`
	Filter     filter.Config    `json:"filter"`
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/chat")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/messages", h.ListMessages)
		api.POST("/messages", h.SendMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)

		api.GET("/blocked", h.ListBlocked)
		api.GET("/blocked/:user_id", h.IsBlocked)
		api.POST("/moderation", h.Moderate)
		api.DELETE("/moderation/:user_id/:action", h.Reverse)
		api.POST("/slow-mode/toggle", h.ToggleSlowMode)
		api.PUT("/filters", h.SetFilters)

		api.POST("/reconnect", h.Reconnect)
	}
}

// GetStatus returns connection, slow mode, stats and filter settings.
func (h *Handler) GetStatus(c *gin.Context) {
	snap := h.session.Snapshot()
	response.Success(c, StatusResponse{
		Channel:    snap.Channel,
		Identity:   h.session.Identity(),
		Connection: snap.Connection,
		SlowMode:   snap.SlowMode,
		Stats:      snap.Stats,
		Filter:     h.session.FilterConfig(),
	})
}

// ListMessages returns the conversation log in order.
func (h *Handler) ListMessages(c *gin.Context) {
	response.Success(c, domain.Views(h.session.Messages()))
}

// SendMessage sends a message as the local participant. The returned
// message is pending; its outcome arrives over the websocket.
func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.session.Send(ctx, req.Body)
	if err != nil {
		h.writeError(c, err, "failed to send message")
		return
	}

	response.Created(c, msg.View())
}

// DeleteMessage removes a message for everyone.
func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.session.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "failed to delete message")
		return
	}
	response.Success(c, gin.H{"message_id": c.Param("id")})
}

// ListBlocked returns every active restriction.
func (h *Handler) ListBlocked(c *gin.Context) {
	response.Success(c, h.session.Blocked())
}

// IsBlocked reports whether a user is currently banned, muted or timed out.
func (h *Handler) IsBlocked(c *gin.Context) {
	userID := c.Param("user_id")
	response.Success(c, gin.H{
		"user_id": userID,
		"blocked": h.session.IsBlocked(userID),
	})
}

// Moderate bans, mutes or times out a user.
func (h *Handler) Moderate(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.ModerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind moderation request")
		response.BadRequest(c, err.Error())
		return
	}

	entry, err := h.session.Moderate(ctx, req)
	if err != nil {
		h.writeError(c, err, "failed to moderate user")
		return
	}

	response.Created(c, entry)
}

// Reverse lifts a ban, mute or timeout.
func (h *Handler) Reverse(c *gin.Context) {
	userID := c.Param("user_id")
	action := domain.Action(c.Param("action"))

	changed, err := h.session.Reverse(c.Request.Context(), userID, action)
	if err != nil {
		h.writeError(c, err, "failed to reverse moderation")
		return
	}
	if !changed {
		response.NotFound(c, "no active "+string(action)+" for user")
		return
	}

	response.Success(c, gin.H{"user_id": userID, "reversed_action": action})
}

// ToggleSlowMode advances slow mode to the next step.
func (h *Handler) ToggleSlowMode(c *gin.Context) {
	mode, err := h.session.ToggleSlowMode(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to toggle slow mode")
		return
	}
	response.Success(c, gin.H{"slow_mode": mode})
}

// SetFilters replaces the local filter settings.
func (h *Handler) SetFilters(c *gin.Context) {
	var cfg filter.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.session.SetFilterConfig(cfg)
	response.Success(c, cfg)
}

// Reconnect tears down the transport and connects again.
func (h *Handler) Reconnect(c *gin.Context) {
	if err := h.session.Reconnect(c.Request.Context()); err != nil {
		h.writeError(c, err, "failed to reconnect")
		return
	}
	response.Success(c, gin.H{"connection": h.session.Status()})
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	var rl *domain.RateLimitedError
	switch {
	case errors.As(err, &rl):
		response.TooManyRequests(c, rl.RemainingSeconds(), err.Error())
	case errors.Is(err, domain.ErrEmptyBody), errors.Is(err, domain.ErrInvalidAction):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrSenderBlocked):
		response.Error(c, http.StatusForbidden, domain.ErrCodeBlocked, err.Error())
	case errors.Is(err, domain.ErrNotModerator):
		response.Forbidden(c, err.Error())
	case errors.Is(err, domain.ErrMessageNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrTransportDisconnected):
		response.ServiceUnavailable(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(msg)
		response.InternalError(c, msg)
	}
}
