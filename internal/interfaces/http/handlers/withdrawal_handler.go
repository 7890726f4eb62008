package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/interfaces/http/response"
	"custody.backend/internal/usecases"
)

type withdrawalService interface {
	Withdraw(ctx context.Context, in entities.WithdrawInput) (*entities.Withdrawal, error)
}

// WithdrawalHandler handles withdrawal endpoints
type WithdrawalHandler struct {
	withdrawals withdrawalService
}

// NewWithdrawalHandler creates a new withdrawal handler
func NewWithdrawalHandler(withdrawals *usecases.WithdrawalUsecase) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

// Withdraw sends USDT from the aggregate address to an external address.
// A broadcast transfer still awaiting confirmation answers 202 with the
// withdrawal so the client can poll.
// POST /api/v1/withdrawals
func (h *WithdrawalHandler) Withdraw(c *gin.Context) {
	var in entities.WithdrawInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	in.UserID = userID

	w, err := h.withdrawals.Withdraw(c.Request.Context(), in)
	switch {
	case err == nil:
		response.Success(c, http.StatusCreated, gin.H{"withdrawal": w})
	case errors.Is(err, domainerrors.ErrConfirmationPending) && w != nil:
		response.Success(c, http.StatusAccepted, gin.H{"withdrawal": w})
	default:
		response.Error(c, err)
	}
}
