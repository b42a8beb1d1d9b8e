package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
	ws "github.com/makeasinger/studio/internal/websocket"
)

type SocketHandler struct {
	hub     *ws.Hub
	service *service.GenerationService
}

func NewSocketHandler(hub *ws.Hub, svc *service.GenerationService) *SocketHandler {
	return &SocketHandler{hub: hub, service: svc}
}

// RequireUpgrade rejects plain HTTP requests on WebSocket routes
func (h *SocketHandler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream handles GET /ws/generation. The first frame is the current state;
// then every event of the caller's orchestrator follows.
func (h *SocketHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("userId").(string)
		if userID == "" {
			_ = c.WriteJSON(model.WSErrorMessage{
				Type:  model.EventFailed,
				Error: model.WSError{Code: "UNAUTHORIZED", Message: "Missing session"},
			})
			return
		}

		var initial []model.Event
		if status, err := h.service.Status(userID); err == nil {
			st := status.State
			initial = append(initial, model.Event{
				Type:           model.EventStatusChange,
				OrchestratorID: status.OrchestratorID,
				At:             time.Now(),
				State:          &st,
			})
		}
		h.service.Refresh(userID)

		h.hub.HandleConnection(c, userID, initial...)
	})
}
