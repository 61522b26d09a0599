package controller

import (
	"context"
	"errors"
	"time"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RotationReader interface {
	Delivered() []int
	Remaining() int
}

type SessionLogouter interface {
	SessionStater
	Logout(ctx context.Context) error
}

type SessionController struct {
	Session  SessionLogouter
	Rotation RotationReader
}

func NewSessionController(session SessionLogouter, rotation RotationReader) *SessionController {
	return &SessionController{Session: session, Rotation: rotation}
}

// @Summary 会话状态
// @Tags 会话
// @Produce json
// @Success 200 {object} util.Response
// @Router /session [get]
func (c *SessionController) GetSession(ctx *gin.Context) {
	delivered := c.Rotation.Delivered()
	util.Success(ctx, gin.H{
		"state":     c.Session.State().String(),
		"delivered": delivered,
		"remaining": c.Rotation.Remaining(),
	})
}

// Logout unlinks the device. The daemon keeps running but will need a new
// pairing before the next batch.
func (c *SessionController) Logout(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 30*time.Second)
	defer cancel()

	operator := ""
	if claims := util.GetOperatorFromContext(ctx); claims != nil {
		operator = claims.Operator
	}
	logger.Log.Info("Logout requested via API", zap.String("operator", operator))

	if err := c.Session.Logout(reqCtx); err != nil {
		if errors.Is(err, util.ErrNotConnected) {
			util.Conflict(ctx, "session is not open")
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"state": model.StateDisconnected.String()})
}
