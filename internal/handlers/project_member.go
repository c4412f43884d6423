package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/middleware"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/pkg/response"
)

// ProjectMemberHandler lists and removes project participants.
type ProjectMemberHandler struct {
	memberService *services.MemberService
}

func NewProjectMemberHandler(memberService *services.MemberService) *ProjectMemberHandler {
	return &ProjectMemberHandler{memberService: memberService}
}

// List returns the creator and all members of the project.
// GET /api/projects/:project_id/members
func (h *ProjectMemberHandler) List(c *gin.Context) {
	members, err := h.memberService.List(c.Request.Context(), middleware.GetTracer(c).Project())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, members)
}

// Remove takes a member off the project.
// DELETE /api/projects/:project_id/members/:user_id
func (h *ProjectMemberHandler) Remove(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	tracer := middleware.GetTracer(c)
	if err := h.memberService.Remove(c.Request.Context(), tracer.Project(), tracer.User.ID, uint(userID)); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{"message": "member removed"})
}
