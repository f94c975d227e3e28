package controller

import (
	"github.com/gin-gonic/gin"

	"xapi_sync_backend/internal/service"
	"xapi_sync_backend/internal/util"
	"xapi_sync_backend/pkg/network"
)

// HealthController 健康检查与连通性探测

type HealthController struct {
	LRS    service.LRSService
	Netmon network.Monitor
}

func NewHealthController(lrs service.LRSService, netmon network.Monitor) *HealthController {
	return &HealthController{LRS: lrs, Netmon: netmon}
}

// @Summary 健康检查
// @Tags health
// @Produce json
// @Success 200 {object} util.Response
// @Router /health [get]
func (c *HealthController) Health(ctx *gin.Context) {
	util.Success(ctx, gin.H{"status": "ok"})
}

// @Summary 连通性
// @Description 本机网络探测结果与 LRS 可达性
// @Tags health
// @Produce json
// @Success 200 {object} util.Response
// @Router /health/connectivity [get]
func (c *HealthController) Connectivity(ctx *gin.Context) {
	lrsReachable := c.LRS.Ping(ctx.Request.Context()) == nil
	util.Success(ctx, gin.H{
		"networkAvailable": c.Netmon.IsAvailable(),
		"lrsReachable":     lrsReachable,
	})
}
