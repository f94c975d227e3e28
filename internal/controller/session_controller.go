package controller

import (
	"errors"

	"github.com/gin-gonic/gin"

	"xapi_sync_backend/internal/service"
	"xapi_sync_backend/internal/util"
)

// SessionController cmi5 launch 会话的签发与查询

type SessionController struct {
	LRS service.LRSService
}

func NewSessionController(lrs service.LRSService) *SessionController {
	return &SessionController{LRS: lrs}
}

type CreateSessionRequest struct {
	UserID       string `json:"userId" binding:"required"`
	Registration string `json:"registration"`
}

// @Summary 创建 launch 会话
// @Description 为 actor 签发会话令牌。registration 缺省时自动生成
// @Tags sessions
// @Accept json
// @Produce json
// @Param body body CreateSessionRequest true "用户与 registration"
// @Success 201 {object} util.Response
// @Router /api/sessions [post]
func (c *SessionController) CreateSession(ctx *gin.Context) {
	var req CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	session, err := c.LRS.CreateSession(ctx.Request.Context(), service.ActorMbox(req.UserID), req.Registration)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, session)
}

// @Summary 查询会话
// @Description 过期会话返回 401
// @Tags sessions
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} util.Response
// @Router /api/sessions/{id} [get]
func (c *SessionController) GetSession(ctx *gin.Context) {
	session, err := c.LRS.GetSession(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrSessionExpired) {
			util.Unauthorized(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, session)
}
