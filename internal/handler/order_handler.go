package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tripbook/internal/middleware"
	"tripbook/internal/model"
	"tripbook/internal/service/order"
	"tripbook/pkg/utils"
)

// OrderHandler order endpoints
type OrderHandler struct {
	orderService order.OrderService
}

// NewOrderHandler creates an order handler
func NewOrderHandler(orderService order.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

type orderView struct {
	OrderNo    string  `json:"order_no"`
	Status     string  `json:"status"`
	Amount     int64   `json:"amount"`
	Quantity   int     `json:"quantity"`
	ItemID     uint64  `json:"item_id"`
	Kind       string  `json:"kind"`
	DestID     *uint64 `json:"dest_id,omitempty"`
	VisitDate  string  `json:"visit_date"`
	ExpireAt   string  `json:"expire_at"`
	PaidAmount *int64  `json:"paid_amount,omitempty"`
}

func viewOf(o *model.Order) orderView {
	return orderView{
		OrderNo:    o.OrderNo,
		Status:     model.StatusName(o.Status),
		Amount:     o.Amount,
		Quantity:   o.Quantity,
		ItemID:     o.ItemID,
		Kind:       string(o.Kind),
		DestID:     o.DestID,
		VisitDate:  o.VisitDate.Format("2006-01-02"),
		ExpireAt:   o.ExpireAt.Format("2006-01-02 15:04:05"),
		PaidAmount: o.PaidAmount,
	}
}

// CreateOrder creates an order
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		utils.ErrorResponse(c, utils.CodeUnauthorized, "Unauthorized")
		return
	}

	var req order.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Invalid request: "+err.Error())
		return
	}
	req.UserID = userID

	o, err := h.orderService.Create(c.Request.Context(), &req)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.CreatedResponse(c, viewOf(o))
}

// GetOrder gets an order by order number
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		utils.ErrorResponse(c, utils.CodeUnauthorized, "Unauthorized")
		return
	}

	o, err := h.orderService.GetByOrderNo(c.Request.Context(), userID, c.Param("order_no"))
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessResponse(c, viewOf(o))
}

// ListOrders lists the caller's orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		utils.ErrorResponse(c, utils.CodeUnauthorized, "Unauthorized")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	orders, total, err := h.orderService.ListByUser(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, viewOf(o))
	}
	utils.SuccessPageResponse(c, views, total, page, pageSize)
}

// CancelOrder cancels a pending order
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		utils.ErrorResponse(c, utils.CodeUnauthorized, "Unauthorized")
		return
	}

	if err := h.orderService.Cancel(c.Request.Context(), userID, c.Param("order_no")); err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"status": model.StatusName(model.OrderStatusCancelled)})
}

type refundBody struct {
	OrderNo string `json:"order_no" binding:"required"`
	Amount  *int64 `json:"amount"`
	Reason  string `json:"reason" binding:"required,max=255"`
}

// RequestRefund moves a paid order into refund_pending
func (h *OrderHandler) RequestRefund(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		utils.ErrorResponse(c, utils.CodeUnauthorized, "Unauthorized")
		return
	}

	var body refundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Invalid request: "+err.Error())
		return
	}

	o, err := h.orderService.RequestRefund(c.Request.Context(), userID, body.OrderNo, &order.RefundRequest{
		Amount: body.Amount,
		Reason: body.Reason,
	})
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"order_no":      o.OrderNo,
		"status":        model.StatusName(o.Status),
		"refund_amount": o.RefundAmount,
	})
}
