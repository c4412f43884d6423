package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/pkg/logger"
	"github.com/huangang/tracer/pkg/response"
)

const (
	ContextTracer = "tracer"

	// ProjectListPath is where denied project requests are sent.
	ProjectListPath = "/api/projects"
)

var ErrProjectAlreadySet = errors.New("tracer project already set")

// Tracer is the per-request view of the caller: who they are, which policy
// applies to them, and on project routes, which project they are in. One is
// built per request and lives only in that request's gin context.
type Tracer struct {
	User        *models.User
	Entitlement *services.Entitlement
	project     *models.Project
}

// Policy is the caller's effective price policy.
func (t *Tracer) Policy() *models.PricePolicy {
	return t.Entitlement.Policy
}

// Project returns the authorized project, or nil off project routes.
func (t *Tracer) Project() *models.Project {
	return t.project
}

// SetProject attaches the authorized project. It can be called once.
func (t *Tracer) SetProject(p *models.Project) error {
	if t.project != nil {
		return ErrProjectAlreadySet
	}
	t.project = p
	return nil
}

// GetTracer returns the request's Tracer; nil before LoadTracer has run.
func GetTracer(c *gin.Context) *Tracer {
	if v, ok := c.Get(ContextTracer); ok {
		if t, ok := v.(*Tracer); ok {
			return t
		}
	}
	return nil
}

// LoadTracer builds the Tracer from the authenticated user and their
// resolved policy. It must run after AuthRequired.
func LoadTracer(auth *services.AuthService, entitlement *services.EntitlementService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		user, err := auth.GetUserByID(ctx, GetUserID(c))
		if errors.Is(err, services.ErrUserNotFound) {
			response.Unauthorized(c, "user no longer exists")
			c.Abort()
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("[Tracer] load user failed")
			response.ServerError(c, "internal server error")
			c.Abort()
			return
		}

		ent, err := entitlement.Resolve(ctx, user.ID)
		if err != nil {
			logger.Error().Err(err).Uint("user_id", user.ID).Msg("[Tracer] resolve policy failed")
			response.ServerError(c, "internal server error")
			c.Abort()
			return
		}

		c.Set(ContextTracer, &Tracer{User: user, Entitlement: ent})
		c.Next()
	}
}

// ProjectRequired authorizes :project_id for the caller and attaches it to
// the Tracer. Denied or malformed ids redirect to the project list.
func ProjectRequired(access *services.AccessService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracer := GetTracer(c)
		if tracer == nil {
			logger.Error().Str("path", c.FullPath()).Msg("[Tracer] ProjectRequired used without LoadTracer")
			response.ServerError(c, "internal server error")
			c.Abort()
			return
		}

		id, err := strconv.ParseUint(c.Param("project_id"), 10, 64)
		if err != nil || id == 0 {
			c.Redirect(http.StatusFound, ProjectListPath)
			c.Abort()
			return
		}

		project, err := access.AuthorizeProject(c.Request.Context(), tracer.User.ID, uint(id))
		if errors.Is(err, services.ErrProjectDenied) {
			c.Redirect(http.StatusFound, ProjectListPath)
			c.Abort()
			return
		}
		if err != nil {
			logger.Error().Err(err).Uint64("project_id", id).Msg("[Tracer] authorize project failed")
			response.ServerError(c, "internal server error")
			c.Abort()
			return
		}

		if err := tracer.SetProject(project); err != nil {
			logger.Error().Err(err).Msg("[Tracer] project attached twice")
			response.ServerError(c, "internal server error")
			c.Abort()
			return
		}
		c.Next()
	}
}
