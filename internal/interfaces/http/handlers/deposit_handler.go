package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/interfaces/http/response"
	"custody.backend/internal/usecases"
)

type depositService interface {
	CreateOrder(ctx context.Context, userID int64, expected *decimal.Decimal) (*entities.DepositOrder, error)
	GetOrder(ctx context.Context, userID int64, id uuid.UUID) (*entities.DepositOrder, error)
}

// DepositHandler handles deposit order endpoints
type DepositHandler struct {
	deposits depositService
}

// NewDepositHandler creates a new deposit handler
func NewDepositHandler(deposits *usecases.DepositOrderUsecase) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

type createDepositRequest struct {
	ExpectedAmount *decimal.Decimal `json:"expectedAmount,omitempty"`
}

// CreateOrder opens a deposit order on the caller's address
// POST /api/v1/deposits
func (h *DepositHandler) CreateOrder(c *gin.Context) {
	var req createDepositRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, domainerrors.BadRequest(err.Error()))
			return
		}
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	order, err := h.deposits.CreateOrder(c.Request.Context(), userID, req.ExpectedAmount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"order": order})
}

// GetOrder returns one of the caller's orders
// GET /api/v1/deposits/:id
func (h *DepositHandler) GetOrder(c *gin.Context) {
	id, ok := pathID(c, "order")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	order, err := h.deposits.GetOrder(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"order": order})
}
