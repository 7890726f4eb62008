package usecases

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/domain/repositories"
	"custody.backend/internal/infrastructure/blockchain"
	"custody.backend/pkg/crypto"
	"custody.backend/pkg/logger"
)

var txPasswordPattern = regexp.MustCompile(`^\d{4,6}$`)

// WalletUsecase provisions custodial deposit addresses and transaction PINs
type WalletUsecase struct {
	wallets repositories.WalletRepository
	keys    KeyVault
}

// NewWalletUsecase creates a new wallet usecase
func NewWalletUsecase(wallets repositories.WalletRepository, keys KeyVault) *WalletUsecase {
	return &WalletUsecase{wallets: wallets, keys: keys}
}

// EnsureWallet returns the user's wallet, generating a deposit address on
// first use. Concurrent callers end up with the same address.
func (u *WalletUsecase) EnsureWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	if userID <= 0 {
		return nil, domainerrors.BadRequest("invalid user")
	}
	if err := u.wallets.EnsureRow(ctx, userID); err != nil {
		return nil, err
	}
	w, err := u.wallets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.DepositAddress != "" {
		return w, nil
	}

	key, err := blockchain.GenerateKey()
	if err != nil {
		return nil, err
	}
	sealed, err := u.keys.Seal(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("seal deposit key: %w", err)
	}
	assigned, err := u.wallets.AssignAddress(ctx, userID, key.Address(), sealed)
	if err != nil {
		return nil, err
	}
	if assigned {
		logger.Info(ctx, "Deposit address assigned", zap.Int64("user_id", userID), zap.String("address", key.Address()))
	}
	return u.wallets.GetByUserID(ctx, userID)
}

// SetTxPassword stores a bcrypt hash of a 4 to 6 digit PIN.
func (u *WalletUsecase) SetTxPassword(ctx context.Context, userID int64, password string) error {
	if !txPasswordPattern.MatchString(password) {
		return domainerrors.BadRequest("transaction password must be 4 to 6 digits")
	}
	if err := u.wallets.EnsureRow(ctx, userID); err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	return u.wallets.SetTxPasswordHash(ctx, userID, hash)
}

// VerifyTxPassword passes when no PIN is set or password matches it.
func (u *WalletUsecase) VerifyTxPassword(ctx context.Context, userID int64, password string) error {
	w, err := u.wallets.GetByUserID(ctx, userID)
	if errors.Is(err, domainerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !w.HasTxPassword() {
		return nil
	}
	if !crypto.CheckPassword(password, w.TxPasswordHash) {
		return domainerrors.ErrInvalidTxPassword
	}
	return nil
}
