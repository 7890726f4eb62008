package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/interfaces/http/response"
	"custody.backend/internal/usecases"
)

type poolService interface {
	CreatePool(ctx context.Context, in entities.CreatePoolInput) (*entities.Pool, error)
	Fund(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.Pool, error)
	MarkDistributed(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.Pool, error)
	Claim(ctx context.Context, poolID uuid.UUID, claimantID int64) (*entities.ClaimResult, error)
	Refund(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.RefundResult, error)
	GetPool(ctx context.Context, poolID uuid.UUID) (*entities.Pool, error)
}

// PoolHandler handles red-packet pool endpoints
type PoolHandler struct {
	pools poolService
}

// NewPoolHandler creates a new pool handler
func NewPoolHandler(pools *usecases.PoolUsecase) *PoolHandler {
	return &PoolHandler{pools: pools}
}

// CreatePool
// POST /api/v1/pools
func (h *PoolHandler) CreatePool(c *gin.Context) {
	var in entities.CreatePoolInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	in.OwnerID = userID

	pool, err := h.pools.CreatePool(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"pool": pool})
}

// GetPool
// GET /api/v1/pools/:id
func (h *PoolHandler) GetPool(c *gin.Context) {
	id, ok := pathID(c, "pool")
	if !ok {
		return
	}

	pool, err := h.pools.GetPool(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"pool": pool})
}

// Fund debits the owner and materializes the shares
// POST /api/v1/pools/:id/fund
func (h *PoolHandler) Fund(c *gin.Context) {
	h.ownerAction(c, h.pools.Fund)
}

// MarkDistributed
// POST /api/v1/pools/:id/distribute
func (h *PoolHandler) MarkDistributed(c *gin.Context) {
	h.ownerAction(c, h.pools.MarkDistributed)
}

func (h *PoolHandler) ownerAction(c *gin.Context, action func(context.Context, int64, uuid.UUID) (*entities.Pool, error)) {
	id, ok := pathID(c, "pool")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	pool, err := action(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"pool": pool})
}

// Claim takes one share for the caller
// POST /api/v1/pools/:id/claim
func (h *PoolHandler) Claim(c *gin.Context) {
	id, ok := pathID(c, "pool")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	res, err := h.pools.Claim(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"claim": res})
}

// Refund returns unclaimed shares to the owner
// POST /api/v1/pools/:id/refund
func (h *PoolHandler) Refund(c *gin.Context) {
	id, ok := pathID(c, "pool")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	res, err := h.pools.Refund(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"refund": res})
}
