package controller

import (
	"errors"
	"net/http"

	"mcq_bot/internal/service"
	"mcq_bot/internal/util"

	"github.com/gin-gonic/gin"
)

type PairingReader interface {
	Current() (*service.PairingArtifact, error)
}

type PairingController struct {
	Pairing PairingReader
}

func NewPairingController(pairing PairingReader) *PairingController {
	return &PairingController{Pairing: pairing}
}

// GetPairing 返回当前待扫描的配对码
func (c *PairingController) GetPairing(ctx *gin.Context) {
	artifact, ok := c.current(ctx)
	if !ok {
		return
	}
	util.Success(ctx, artifact)
}

func (c *PairingController) GetPairingImage(ctx *gin.Context) {
	artifact, ok := c.current(ctx)
	if !ok {
		return
	}
	ctx.Data(http.StatusOK, util.MimePNG, artifact.PNG())
}

func (c *PairingController) current(ctx *gin.Context) (*service.PairingArtifact, bool) {
	artifact, err := c.Pairing.Current()
	if err != nil {
		if errors.Is(err, util.ErrNoPairingCode) {
			util.Error(ctx, http.StatusNotFound, "no pairing code pending")
			return nil, false
		}
		util.LogInternalError(ctx, err)
		return nil, false
	}
	return artifact, true
}
