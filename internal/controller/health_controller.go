package controller

import (
	"mcq_bot/internal/model"
	"mcq_bot/internal/util"

	"github.com/gin-gonic/gin"
)

type SessionStater interface {
	State() model.SessionState
}

type HealthController struct {
	Session SessionStater
}

func NewHealthController(session SessionStater) *HealthController {
	return &HealthController{Session: session}
}

// @Summary 健康检查
// @Description 进程存活即返回 200，session 状态单独列出
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	session := "down"
	if c.Session.State() == model.StateOpen {
		session = "up"
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"session": session,
		},
	})
}
