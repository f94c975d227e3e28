package controller

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/service"
	"xapi_sync_backend/internal/util"
)

// SyncController 同步引擎的控制面

type SyncController struct {
	Manager *service.SyncManager
	Hub     *service.SyncHub
}

func NewSyncController(manager *service.SyncManager, hub *service.SyncHub) *SyncController {
	return &SyncController{Manager: manager, Hub: hub}
}

// @Summary 触发同步
// @Description 立即开始一轮同步。已在同步中返回 409
// @Tags sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/sync/trigger [post]
func (c *SyncController) TriggerSync(ctx *gin.Context) {
	if c.Manager.State() == model.SyncStateSyncing {
		util.Conflict(ctx, "sync already in progress")
		return
	}

	// 同步在后台推进，结果通过 websocket 与 /sync/status 观察
	go func() {
		_ = c.Manager.TriggerSync(context.Background())
	}()

	util.Success(ctx, gin.H{"state": model.SyncStateSyncing})
}

// @Summary 取消同步
// @Description 批次间生效，不打断在途请求
// @Tags sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/sync/cancel [post]
func (c *SyncController) CancelSync(ctx *gin.Context) {
	c.Manager.CancelSync()
	util.Success(ctx, gin.H{"state": c.Manager.State()})
}

// @Summary 重试失败记录
// @Description 按指数退避复位失败的 statement 并触发同步
// @Tags sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/sync/retry [post]
func (c *SyncController) RetryFailed(ctx *gin.Context) {
	retried, err := c.Manager.RetryFailedStatements(ctx.Request.Context())
	if err != nil {
		if errors.Is(err, util.ErrSyncInProgress) {
			util.Conflict(ctx, "sync already in progress")
			return
		}
		if errors.Is(err, util.ErrNetworkUnavailable) {
			util.Error(ctx, 503, "network unavailable")
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"retried": retried})
}

// @Summary 同步状态
// @Description 状态机当前状态、进度与计数
// @Tags sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/sync/status [get]
func (c *SyncController) SyncStatus(ctx *gin.Context) {
	pending, err := c.Manager.PendingCount()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	synced, err := c.Manager.SyncedCount()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	failed, err := c.Manager.FailedCount()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"state":    c.Manager.State(),
		"progress": c.Manager.Progress(),
		"pending":  pending,
		"synced":   synced,
		"failed":   failed,
	})
}

// @Summary 同步统计
// @Description 成功率与平均耗时
// @Tags sync
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/sync/statistics [get]
func (c *SyncController) Statistics(ctx *gin.Context) {
	util.Success(ctx, c.Manager.Statistics())
}

type LowPowerRequest struct {
	Enabled bool `json:"enabled"`
}

// @Summary 低电量模式
// @Description 开启后缩小同步批次
// @Tags sync
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body LowPowerRequest true "开关"
// @Success 200 {object} util.Response
// @Router /api/sync/low-power [put]
func (c *SyncController) SetLowPowerMode(ctx *gin.Context) {
	var req LowPowerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	c.Manager.SetLowPowerMode(req.Enabled)
	util.Success(ctx, gin.H{"lowPowerMode": req.Enabled})
}

// @Summary 事件订阅
// @Description websocket 推送同步状态、进度与 statement 更新
// @Tags sync
// @Router /ws/sync [get]
func (c *SyncController) ServeWs(ctx *gin.Context) {
	service.ServeSyncWs(c.Hub, ctx.Writer, ctx.Request)
}
