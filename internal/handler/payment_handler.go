package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripbook/internal/middleware"
	"tripbook/internal/service/payment"
	"tripbook/pkg/log"
	"tripbook/pkg/utils"
)

// maxNotifyBody caps webhook payload reads; provider notifications are
// small and anything larger is garbage.
const maxNotifyBody = 1 << 20

// PaymentHandler payment endpoints
type PaymentHandler struct {
	paymentService payment.PaymentService
}

// NewPaymentHandler creates a payment handler
func NewPaymentHandler(paymentService payment.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

type createSessionBody struct {
	OrderNo string `json:"order_no" binding:"required"`
	Method  string `json:"method" binding:"required"`
}

// CreateSession builds a payment session for a pending order
func (h *PaymentHandler) CreateSession(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		utils.ErrorResponse(c, utils.CodeUnauthorized, "Unauthorized")
		return
	}

	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Invalid request: "+err.Error())
		return
	}

	session, err := h.paymentService.CreateSession(c.Request.Context(), userID, body.OrderNo, body.Method)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessResponse(c, session)
}

// Methods lists accepted payment methods
func (h *PaymentHandler) Methods(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{"methods": h.paymentService.Methods()})
}

// Notify receives gateway webhooks. The response body is the provider's
// ack token verbatim; the envelope helpers are never used here because the
// provider, not a browser, reads the reply.
func (h *PaymentHandler) Notify(c *gin.Context) {
	method := c.Param("method")

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotifyBody))
	if err != nil {
		log.WithError(err).Warn("Failed to read webhook body")
		c.String(http.StatusBadRequest, "")
		return
	}

	ack, err := h.paymentService.HandleNotification(c.Request.Context(), method, raw)
	if err != nil {
		// unknown gateway name; nothing we could ack with
		c.String(http.StatusNotFound, "")
		return
	}

	c.Data(http.StatusOK, ack.ContentType, []byte(ack.Body))
}
