package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/interfaces/http/response"
	"custody.backend/internal/usecases"
	"custody.backend/pkg/utils"
)

type walletService interface {
	EnsureWallet(ctx context.Context, userID int64) (*entities.Wallet, error)
	SetTxPassword(ctx context.Context, userID int64, password string) error
}

type ledgerReader interface {
	GetWallet(ctx context.Context, userID int64) (*entities.Wallet, error)
	ListEntries(ctx context.Context, userID int64, p utils.PaginationParams) ([]*entities.LedgerEntry, int64, error)
}

// WalletHandler handles wallet endpoints
type WalletHandler struct {
	wallets walletService
	ledger  ledgerReader
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(wallets *usecases.WalletUsecase, ledger *usecases.LedgerService) *WalletHandler {
	return &WalletHandler{wallets: wallets, ledger: ledger}
}

type walletView struct {
	DepositAddress string          `json:"depositAddress"`
	Balance        decimal.Decimal `json:"balance"`
	Frozen         decimal.Decimal `json:"frozen"`
	Available      decimal.Decimal `json:"available"`
	HasTxPassword  bool            `json:"hasTxPassword"`
}

func newWalletView(w *entities.Wallet) walletView {
	return walletView{
		DepositAddress: w.DepositAddress,
		Balance:        w.Balance,
		Frozen:         w.Frozen,
		Available:      w.Available(),
		HasTxPassword:  w.HasTxPassword(),
	}
}

// EnsureWallet provisions the caller's deposit address if missing
// POST /api/v1/wallet
func (h *WalletHandler) EnsureWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	wallet, err := h.wallets.EnsureWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"wallet": newWalletView(wallet)})
}

// GetWallet returns the caller's balances
// GET /api/v1/wallet
func (h *WalletHandler) GetWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	wallet, err := h.ledger.GetWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"wallet": newWalletView(wallet)})
}

// ListLedger pages through the caller's ledger entries, newest first
// GET /api/v1/wallet/ledger
func (h *WalletHandler) ListLedger(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var q utils.PaginationParams
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid pagination"))
		return
	}
	p := utils.GetPaginationParams(q.Page, q.Limit)

	entries, total, err := h.ledger.ListEntries(c.Request.Context(), userID, p)
	if err != nil {
		response.Error(c, err)
		return
	}
	if entries == nil {
		entries = []*entities.LedgerEntry{}
	}

	response.Paginated(c, http.StatusOK, entries, utils.CalculateMeta(total, p.Page, p.Limit))
}

type setTxPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// SetTxPassword sets or replaces the withdrawal PIN
// PUT /api/v1/wallet/tx-password
func (h *WalletHandler) SetTxPassword(c *gin.Context) {
	var req setTxPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.wallets.SetTxPassword(c.Request.Context(), userID, req.Password); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Transaction password updated"})
}
