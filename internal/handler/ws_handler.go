package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/chat-engine/internal/config"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-engine/internal/service"
	"github.com/weiawesome/wes-io-live/chat-engine/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	session service.ChatSession
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, session service.ChatSession, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		session: session,
		wsCfg:   wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)

	client.SendMessage(h.session.Snapshot())
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.MsgTypeSend:
		var msg domain.SendMessageWS
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid send message"))
			return
		}
		if _, err := h.session.Send(ctx, msg.Content); err != nil {
			h.sendError(client, err)
		}

	case domain.MsgTypePing:
		client.SendMessage(&domain.PongMessage{Type: domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

// sendError reports a rejected send to the client that issued it.
// Rate limiting is already pushed to every client by the session.
func (h *WSHandler) sendError(client *hub.Client, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
	case errors.Is(err, domain.ErrEmptyBody):
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeEmptyBody, err.Error()))
	case errors.Is(err, domain.ErrSenderBlocked):
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBlocked, err.Error()))
	case errors.Is(err, domain.ErrTransportDisconnected):
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeDisconnected, err.Error()))
	default:
		l := log.L()
		l.Error().Err(err).Str("client_id", client.ID).Msg("send failed")
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "failed to send message"))
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/chat/ws", h.HandleWebSocket)
}
