package controller

import (
	"mcq_bot/internal/service"

	"github.com/gin-gonic/gin"
)

type EventsController struct {
	Hub *service.EventHub
}

func NewEventsController(hub *service.EventHub) *EventsController {
	return &EventsController{Hub: hub}
}

// Subscribe upgrades to a websocket that receives SESSION_STATE,
// PAIRING_CODE and BATCH_REPORT messages.
func (c *EventsController) Subscribe(ctx *gin.Context) {
	service.ServeWs(c.Hub, ctx.Writer, ctx.Request)
}
