package controller

import (
	"errors"

	"github.com/gin-gonic/gin"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/repository"
	"xapi_sync_backend/internal/service"
	"xapi_sync_backend/internal/util"
)

// StatementController 处理 statement 的采集与查询请求

type StatementController struct {
	Repo      *repository.StatementRepository
	Queue     *service.StatementQueue
	Validator *service.StatementValidator
	Resolver  *service.ConflictResolver
}

func NewStatementController(
	repo *repository.StatementRepository,
	queue *service.StatementQueue,
	validator *service.StatementValidator,
	resolver *service.ConflictResolver,
) *StatementController {
	return &StatementController{
		Repo:      repo,
		Queue:     queue,
		Validator: validator,
		Resolver:  resolver,
	}
}

type SubmitStatementRequest struct {
	Statement model.XAPIStatement `json:"statement" binding:"required"`
	Priority  string              `json:"priority"`
	Cmi5      bool                `json:"cmi5"`
}

// @Summary 提交 statement
// @Description 校验后写入离线存储并进入同步队列
// @Tags statements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param statement body SubmitStatementRequest true "statement 与优先级"
// @Success 201 {object} util.Response
// @Router /api/statements [post]
func (c *StatementController) SubmitStatement(ctx *gin.Context) {
	var req SubmitStatementRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	var result service.ValidationResult
	if req.Cmi5 {
		result = c.Validator.ValidateCmi5Statement(&req.Statement)
	} else {
		result = c.Validator.ValidateStatement(&req.Statement)
	}
	if !result.IsValid {
		ctx.JSON(400, util.Response{
			Code:    400,
			Message: "statement validation failed",
			Data:    result,
		})
		return
	}

	priority := model.ParsePriority(req.Priority)
	pending, err := c.Repo.SaveStatement(&req.Statement, priority)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	if !c.Queue.Enqueue(&req.Statement, priority) {
		// 队列满不算失败，落库的记录会被周期同步捡起
		util.Created(ctx, gin.H{"statementId": pending.StatementID, "queued": false})
		return
	}

	util.Created(ctx, gin.H{"statementId": pending.StatementID, "queued": true})
}

// @Summary 校验 statement
// @Description 只校验不入库，返回全部错误与警告
// @Tags statements
// @Accept json
// @Produce json
// @Param statement body SubmitStatementRequest true "待校验的 statement"
// @Success 200 {object} util.Response
// @Router /api/statements/validate [post]
func (c *StatementController) ValidateStatement(ctx *gin.Context) {
	var req SubmitStatementRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	var result service.ValidationResult
	if req.Cmi5 {
		result = c.Validator.ValidateCmi5Statement(&req.Statement)
	} else {
		result = c.Validator.ValidateStatement(&req.Statement)
	}
	util.Success(ctx, result)
}

// @Summary 查询单条 statement
// @Description 按 ID 从离线存储读取
// @Tags statements
// @Produce json
// @Security BearerAuth
// @Param id path string true "statement ID"
// @Success 200 {object} util.Response
// @Router /api/statements/{id} [get]
func (c *StatementController) GetStatement(ctx *gin.Context) {
	id := ctx.Param("id")
	pending, err := c.Repo.GetByID(id)
	if err != nil {
		if errors.Is(err, util.ErrStatementNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	st, err := pending.Statement()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"statement":  st,
		"syncStatus": pending.SyncStatus,
		"priority":   pending.Priority.String(),
		"retryCount": pending.RetryCount,
		"syncedAt":   pending.SyncedAt,
	})
}

// @Summary 按状态列出 statement
// @Description pending / syncing / synced / failed
// @Tags statements
// @Produce json
// @Security BearerAuth
// @Param status query string true "同步状态" enums(pending,syncing,synced,failed)
// @Success 200 {object} util.Response
// @Router /api/statements [get]
func (c *StatementController) ListByStatus(ctx *gin.Context) {
	status := model.SyncStatus(ctx.Query("status"))
	switch status {
	case model.SyncStatusPending, model.SyncStatusSyncing, model.SyncStatusSynced, model.SyncStatusFailed:
	default:
		util.BadRequest(ctx, "Invalid status. Must be one of: pending, syncing, synced, failed")
		return
	}

	records, err := c.Repo.GetByStatus(status)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, records)
}

// @Summary 删除 statement
// @Description 从离线存储移除
// @Tags statements
// @Produce json
// @Security BearerAuth
// @Param id path string true "statement ID"
// @Success 200 {object} util.Response
// @Router /api/statements/{id} [delete]
func (c *StatementController) DeleteStatement(ctx *gin.Context) {
	if err := c.Repo.Delete(ctx.Param("id")); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// @Summary 队列统计
// @Description 内存队列的各优先级深度与累计计数
// @Tags statements
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/statements/queue/stats [get]
func (c *StatementController) QueueStatistics(ctx *gin.Context) {
	util.Success(ctx, c.Queue.Statistics())
}

// @Summary 冲突日志
// @Description 最近的冲突裁决记录 (环形缓冲)
// @Tags statements
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/statements/conflicts [get]
func (c *StatementController) ConflictLog(ctx *gin.Context) {
	util.Success(ctx, c.Resolver.ConflictLog())
}
