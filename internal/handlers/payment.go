package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/huangang/tracer/internal/middleware"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/pkg/logger"
	"github.com/huangang/tracer/pkg/response"
)

// Plain-text acknowledgements the payment provider expects.
const (
	notifyAck  = "success"
	notifyNack = "failure"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

type QuoteQuery struct {
	PolicyID uint `form:"policy_id" binding:"required"`
	Number   int  `form:"number" binding:"required"`
}

type InitiateRequest struct {
	PolicyID uint `json:"policy_id" binding:"required"`
	Number   int  `json:"number" binding:"required"`
}

// Quote prices a purchase, crediting the unused part of the current plan
// GET /api/payments/quote?policy_id=&number=
func (h *PaymentHandler) Quote(c *gin.Context) {
	var q QuoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	quote, err := h.paymentService.Quote(c.Request.Context(), middleware.GetUserID(c), q.PolicyID, q.Number)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, quote)
}

// Initiate records an unpaid order and returns the provider redirect
// POST /api/payments
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.paymentService.Initiate(c.Request.Context(), middleware.GetUserID(c), req.PolicyID, req.Number)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, result)
}

// Notify receives the provider's server-to-server notification. The body is
// form encoded and the answer is a bare word.
// POST /api/payments/notify
func (h *PaymentHandler) Notify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, notifyNack)
		return
	}

	meta := services.RequestMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	err := h.paymentService.HandleNotify(c.Request.Context(), flatten(c.Request.PostForm), meta)
	switch {
	case err == nil:
		c.String(http.StatusOK, notifyAck)
	case errors.Is(err, services.ErrInvalidSignature), errors.Is(err, services.ErrMissingOrderID):
		c.String(http.StatusBadRequest, notifyNack)
	default:
		// The provider retries on anything but success.
		logger.Error().Err(err).Str("order_id", c.Request.PostForm.Get("out_trade_no")).Msg("[Payment] notification not processed")
		c.String(http.StatusInternalServerError, notifyNack)
	}
}

// Return handles the browser coming back from the provider. It only reads
// the order; the notification is what marks it paid.
// GET /api/payments/return
func (h *PaymentHandler) Return(c *gin.Context) {
	tx, err := h.paymentService.VerifyReturn(c.Request.Context(), middleware.GetUserID(c), flatten(c.Request.URL.Query()))
	if err != nil {
		fail(c, err)
		return
	}
	resp := gin.H{
		"order_id": tx.OrderID,
		"paid":     tx.IsPaid(),
		"amount":   tx.Amount,
	}
	if tx.PricePolicy != nil {
		resp["policy"] = tx.PricePolicy.Title
	}
	response.Success(c, resp)
}

// GetOrder returns one of the caller's orders
// GET /api/payments/:order_id
func (h *PaymentHandler) GetOrder(c *gin.Context) {
	tx, err := h.paymentService.GetOrder(c.Request.Context(), middleware.GetUserID(c), c.Param("order_id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, tx)
}

// flatten keeps the first value of every key.
func flatten(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
