package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/middleware"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/pkg/response"
)

type ProjectHandler struct {
	projectService *services.ProjectService
}

func NewProjectHandler(projectService *services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

// List returns the caller's created, joined and starred projects
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	resp, err := h.projectService.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, resp)
}

// Create creates a new project
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tracer := middleware.GetTracer(c)
	project, err := h.projectService.Create(c.Request.Context(), tracer.User.ID, tracer.Policy(), &req)
	if err != nil {
		fail(c, err)
		return
	}

	response.Created(c, project)
}

// Get returns the authorized project
// GET /api/projects/:project_id
func (h *ProjectHandler) Get(c *gin.Context) {
	tracer := middleware.GetTracer(c)
	project := tracer.Project()
	response.Success(c, gin.H{
		"project":    project,
		"is_creator": project.CreatorID == tracer.User.ID,
		"policy":     tracer.Policy(),
	})
}

// ToggleStar flips the caller's star on the project
// POST /api/projects/:project_id/star?kind=my|join
func (h *ProjectHandler) ToggleStar(c *gin.Context) {
	tracer := middleware.GetTracer(c)
	star, err := h.projectService.ToggleStar(c.Request.Context(), tracer.User.ID, tracer.Project().ID, c.Query("kind"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"star": star})
}

type deleteProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// Delete removes the project; the name must be typed again to confirm
// DELETE /api/projects/:project_id
func (h *ProjectHandler) Delete(c *gin.Context) {
	var req deleteProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tracer := middleware.GetTracer(c)
	if err := h.projectService.Delete(c.Request.Context(), tracer.Project(), tracer.User.ID, req.Name); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{"message": "project deleted successfully"})
}

// UploadURL reserves space for a file and returns a presigned PUT URL
// POST /api/projects/:project_id/files/upload-url
func (h *ProjectHandler) UploadURL(c *gin.Context) {
	var req services.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tracer := middleware.GetTracer(c)
	reservation, err := h.projectService.ReserveUpload(c.Request.Context(), tracer.Project(), tracer.Policy(), &req)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, reservation)
}
