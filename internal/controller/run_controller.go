package controller

import (
	"errors"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"

	"github.com/gin-gonic/gin"
)

type BatchStarter interface {
	Start() error
	LastReport() *model.BatchReport
}

type RunController struct {
	Batch BatchStarter
}

func NewRunController(batch BatchStarter) *RunController {
	return &RunController{Batch: batch}
}

// @Summary 立即发送一批题目
// @Description 异步执行，结果通过 /runs/last 或 /ws/events 获取
// @Tags 发送
// @Produce json
// @Success 202 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /runs [post]
func (c *RunController) StartRun(ctx *gin.Context) {
	if err := c.Batch.Start(); err != nil {
		if errors.Is(err, util.ErrBatchRunning) {
			util.Conflict(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Accepted(ctx, gin.H{"status": "started"})
}

func (c *RunController) GetLastRun(ctx *gin.Context) {
	report := c.Batch.LastReport()
	if report == nil {
		util.NotFound(ctx)
		return
	}
	util.Success(ctx, report)
}
