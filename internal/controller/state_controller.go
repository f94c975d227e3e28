package controller

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"xapi_sync_backend/internal/service"
	"xapi_sync_backend/internal/util"
)

// StateController xAPI State API 的透传，客户端用它存取书签等进度文档

type StateController struct {
	LRS service.LRSService
}

func NewStateController(lrs service.LRSService) *StateController {
	return &StateController{LRS: lrs}
}

// @Summary 读取状态文档
// @Description 按 activityId + stateId 读取。agent 缺省取会话里的 actor
// @Tags state
// @Produce json
// @Security BearerAuth
// @Param activityId query string true "活动 IRI"
// @Param stateId query string true "状态 ID"
// @Param agent query string false "agent，缺省取会话 actor"
// @Param registration query string false "registration"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/state [get]
func (c *StateController) GetState(ctx *gin.Context) {
	activityID, agent, registration, stateID, ok := c.stateParams(ctx)
	if !ok {
		return
	}

	doc, err := c.LRS.GetState(ctx.Request.Context(), activityID, agent, registration, stateID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	if doc == nil {
		util.NotFound(ctx)
		return
	}
	ctx.Data(http.StatusOK, "application/json", doc)
}

// @Summary 写入状态文档
// @Description 请求体整体作为状态文档透传到 LRS
// @Tags state
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param activityId query string true "活动 IRI"
// @Param stateId query string true "状态 ID"
// @Success 200 {object} util.Response
// @Router /api/state [put]
func (c *StateController) PutState(ctx *gin.Context) {
	activityID, agent, registration, stateID, ok := c.stateParams(ctx)
	if !ok {
		return
	}

	doc, err := io.ReadAll(ctx.Request.Body)
	if err != nil || len(doc) == 0 {
		util.BadRequest(ctx, "state document body is required")
		return
	}

	if err := c.LRS.PutState(ctx.Request.Context(), activityID, agent, registration, stateID, doc); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"stateId": stateID})
}

// @Summary 删除状态文档
// @Tags state
// @Produce json
// @Security BearerAuth
// @Param activityId query string true "活动 IRI"
// @Param stateId query string true "状态 ID"
// @Success 200 {object} util.Response
// @Router /api/state [delete]
func (c *StateController) DeleteState(ctx *gin.Context) {
	activityID, agent, registration, stateID, ok := c.stateParams(ctx)
	if !ok {
		return
	}

	if err := c.LRS.DeleteState(ctx.Request.Context(), activityID, agent, registration, stateID); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"stateId": stateID})
}

// @Summary 查询远端 statement
// @Description 按 activity / agent / limit 过滤查询 LRS 已入库的 statement
// @Tags state
// @Produce json
// @Security BearerAuth
// @Param activity query string false "活动 IRI"
// @Param agent query string false "agent mbox"
// @Param limit query int false "条数上限"
// @Success 200 {object} util.Response
// @Router /api/statements/remote [get]
func (c *StateController) RemoteStatements(ctx *gin.Context) {
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			util.BadRequest(ctx, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	statements, err := c.LRS.GetStatements(ctx.Request.Context(), ctx.Query("activity"), ctx.Query("agent"), limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"statements": statements, "count": len(statements)})
}

func (c *StateController) stateParams(ctx *gin.Context) (activityID, agent, registration, stateID string, ok bool) {
	activityID = ctx.Query("activityId")
	stateID = ctx.Query("stateId")
	if activityID == "" || stateID == "" {
		util.BadRequest(ctx, "activityId and stateId are required")
		return "", "", "", "", false
	}

	agent = ctx.Query("agent")
	if agent == "" {
		if claims := util.GetSessionFromContext(ctx); claims != nil {
			agent = claims.ActorMbox
		}
	}
	if agent == "" {
		util.BadRequest(ctx, "agent is required")
		return "", "", "", "", false
	}

	return activityID, agent, ctx.Query("registration"), stateID, true
}
