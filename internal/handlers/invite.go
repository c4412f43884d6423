package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/middleware"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/pkg/response"
)

type InviteHandler struct {
	inviteService *services.InviteService
}

func NewInviteHandler(inviteService *services.InviteService) *InviteHandler {
	return &InviteHandler{inviteService: inviteService}
}

// Create issues an invite code for the project
// POST /api/projects/:project_id/invites
func (h *InviteHandler) Create(c *gin.Context) {
	var req services.CreateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tracer := middleware.GetTracer(c)
	invite, err := h.inviteService.CreateInvite(c.Request.Context(), tracer.Project(), tracer.User.ID, req.Period, req.MaxCount)
	if err != nil {
		fail(c, err)
		return
	}

	response.Created(c, gin.H{
		"code":       invite.Code,
		"expires_at": invite.ExpiresAt(),
		"max_count":  invite.MaxCount,
	})
}

// Redeem joins the caller to the invite's project. Rejections come back
// with status false and a displayable reason.
// POST /api/invites/:code/redeem
func (h *InviteHandler) Redeem(c *gin.Context) {
	result, err := h.inviteService.Redeem(c.Request.Context(), c.Param("code"), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	if !result.OK {
		response.Rejected(c, result.Reason, result)
		return
	}
	response.Success(c, result)
}
