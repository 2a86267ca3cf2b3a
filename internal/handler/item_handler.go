package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"tripbook/internal/model"
	"tripbook/internal/service/inventory"
	"tripbook/pkg/utils"
)

// ItemHandler inventory item endpoints
type ItemHandler struct {
	store inventory.Store
}

// NewItemHandler creates an item handler
func NewItemHandler(store inventory.Store) *ItemHandler {
	return &ItemHandler{store: store}
}

// GetItem gets an item with its live stock
func (h *ItemHandler) GetItem(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Invalid item id")
		return
	}

	item, err := h.store.GetItem(c.Request.Context(), id)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessResponse(c, item)
}

// ListItems lists active items of a kind
func (h *ItemHandler) ListItems(c *gin.Context) {
	kind := model.ItemKind(c.DefaultQuery("kind", string(model.ItemKindSpot)))
	if !kind.Valid() {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Unknown item kind")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.store.ListActive(c.Request.Context(), kind, page, pageSize)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessPageResponse(c, items, total, page, pageSize)
}

// Draw runs an advisory blind-box draw for a box type. Nothing is
// reserved; the destination offered here is only persisted when an order
// is placed.
func (h *ItemHandler) Draw(c *gin.Context) {
	boxType := c.Query("box_type")
	if boxType == "" {
		utils.ErrorResponse(c, utils.CodeInvalidParam, "Missing box_type parameter")
		return
	}

	result, err := h.store.Draw(c.Request.Context(), boxType)
	if err != nil {
		utils.ErrorFrom(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"item_id":     result.Item.ID,
		"item_name":   result.Item.Name,
		"unit_price":  result.Item.UnitPrice,
		"destination": result.Destination,
	})
}
