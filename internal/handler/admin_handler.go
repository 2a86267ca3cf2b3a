package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tripbook/internal/middleware"
	"tripbook/internal/model"
	"tripbook/internal/service/inventory"
	"tripbook/internal/service/order"
	"tripbook/internal/service/refund"
	"tripbook/pkg/utils"
)

// AdminHandler operator endpoints
type AdminHandler struct {
	refundService refund.RefundService
	orderService  order.OrderService
	store         inventory.Store
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(refundService refund.RefundService, orderService order.OrderService, store inventory.Store) *AdminHandler {
	return &AdminHandler{
		refundService: refundService,
		orderService:  orderService,
		store:         store,
	}
}

type decideBody struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason" binding:"max=255"`
}

// DecideRefund approves or rejects a pending refund
func (h *AdminHandler) DecideRefund(c *gin.Context) {
	var body decideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Invalid request: "+err.Error())
		return
	}

	operator := middleware.Operator(c)
	o, err := h.refundService.Decide(c.Request.Context(), c.Param("order_no"), body.Approved, body.Reason, operator)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"order_no":        o.OrderNo,
		"status":          model.StatusName(o.Status),
		"refund_no":       o.RefundNo,
		"decision_reason": o.RefundDecisionReason,
	})
}

// ListRefunds lists refund requests awaiting a decision
func (h *AdminHandler) ListRefunds(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	orders, total, err := h.refundService.ListPending(c.Request.Context(), page, pageSize)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessPageResponse(c, orders, total, page, pageSize)
}

// CompleteOrder marks a paid order completed after the visit
func (h *AdminHandler) CompleteOrder(c *gin.Context) {
	if err := h.orderService.Complete(c.Request.Context(), c.Param("order_no")); err != nil {
		utils.ErrorFrom(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"status": model.StatusName(model.OrderStatusCompleted)})
}

// CreateItem provisions a sellable item
func (h *AdminHandler) CreateItem(c *gin.Context) {
	var item model.InventoryItem
	if err := c.ShouldBindJSON(&item); err != nil {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Invalid request: "+err.Error())
		return
	}

	if err := h.store.CreateItem(c.Request.Context(), &item); err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.CreatedResponse(c, item)
}
