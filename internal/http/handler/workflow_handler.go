package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/broker"
	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	"github.com/kavindya12/soa-microservices-platform/internal/saga"
)

// Orchestrator is the saga surface exposed over HTTP.
type Orchestrator interface {
	PlaceOrder(ctx context.Context, order domain.WorkflowOrder) error
	WorkflowStatus(ctx context.Context, orderID string) saga.StatusReport
	UpdateCatalogStock(ctx context.Context, productID string, quantity int) error
}

// WorkflowHandler serves the order workflow endpoints.
type WorkflowHandler struct {
	Saga     Orchestrator
	Validate *validatorv10.Validate
	Logger   *zap.Logger
}

// NewWorkflowHandler creates the handler set.
func NewWorkflowHandler(orchestrator Orchestrator, validate *validatorv10.Validate, logger *zap.Logger) *WorkflowHandler {
	if validate == nil {
		validate = NewValidator()
	}
	return &WorkflowHandler{Saga: orchestrator, Validate: validate, Logger: logger}
}

// PlaceOrder creates the order and starts its workflow.
func (h *WorkflowHandler) PlaceOrder(c *gin.Context) {
	var order domain.WorkflowOrder
	if err := bindAndValidate(c, &order, h.Validate); err != nil {
		return
	}

	err := h.Saga.PlaceOrder(c.Request.Context(), order)
	switch {
	case err == nil:
		c.String(http.StatusOK, "Order %s created and initiation request sent to orchestrator.", order.ID)
	case errors.Is(err, broker.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broker_unavailable", "error_description": "Message broker is not connected."})
	case errors.Is(err, saga.ErrOrderRejected):
		h.log().Error("order creation failed", zap.String("order_id", order.ID), zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to create order: %s", err.Error())
	default:
		h.log().Error("order initiation failed", zap.String("order_id", order.ID), zap.Error(err))
		c.String(http.StatusInternalServerError, "Failed to initiate order workflow: %s", err.Error())
	}
}

// WorkflowStatus aggregates order, payment and shipping records.
func (h *WorkflowHandler) WorkflowStatus(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("orderId"))
	c.JSON(http.StatusOK, h.Saga.WorkflowStatus(c.Request.Context(), orderID))
}

type stockRequest struct {
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

// UpdateCatalogStock decrements catalog stock for a product.
func (h *WorkflowHandler) UpdateCatalogStock(c *gin.Context) {
	productID := strings.TrimSpace(c.Param("productId"))

	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil || h.Validate.Struct(req) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Quantity must be a positive number"})
		return
	}
	if req.Quantity != math.Trunc(req.Quantity) || req.Quantity > math.MaxInt32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Quantity must be a whole number of units"})
		return
	}

	if err := h.Saga.UpdateCatalogStock(c.Request.Context(), productID, int(req.Quantity)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to update stock for product %s", productID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Stock updated successfully for product %s", productID)})
}

func (h *WorkflowHandler) log() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}
