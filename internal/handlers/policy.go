package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/middleware"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/pkg/response"
)

type PolicyHandler struct {
	entitlementService *services.EntitlementService
}

func NewPolicyHandler(entitlementService *services.EntitlementService) *PolicyHandler {
	return &PolicyHandler{entitlementService: entitlementService}
}

// List returns the purchasable price policies
// GET /api/price-policies
func (h *PolicyHandler) List(c *gin.Context) {
	policies, err := h.entitlementService.ListPurchasable(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, policies)
}

// Entitlement returns the caller's effective policy
// GET /api/entitlement
func (h *PolicyHandler) Entitlement(c *gin.Context) {
	tracer := middleware.GetTracer(c)
	response.Success(c, gin.H{
		"paid":        tracer.Entitlement.IsPaid(),
		"policy":      tracer.Entitlement.Policy,
		"transaction": tracer.Entitlement.Transaction,
	})
}
