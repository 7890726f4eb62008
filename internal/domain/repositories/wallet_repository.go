package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	"custody.backend/internal/domain/entities"
)

// WalletRepository persists custodial wallets
type WalletRepository interface {
	// EnsureRow inserts an empty wallet for userID unless one exists.
	EnsureRow(ctx context.Context, userID int64) error
	GetByUserID(ctx context.Context, userID int64) (*entities.Wallet, error)
	// AssignAddress sets the deposit address on a wallet that has none yet.
	AssignAddress(ctx context.Context, userID int64, address, keyCipher string) (bool, error)
	UpdateBalances(ctx context.Context, userID int64, balance, frozen decimal.Decimal) error
	SetTxPasswordHash(ctx context.Context, userID int64, hash string) error
	SumBalances(ctx context.Context) (decimal.Decimal, error)
}

// LedgerRepository persists append-only ledger entries
type LedgerRepository interface {
	// InsertIfAbsent returns false without error when (user_id, order_no) exists.
	InsertIfAbsent(ctx context.Context, entry *entities.LedgerEntry) (bool, error)
	Exists(ctx context.Context, userID int64, orderNo string) (bool, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*entities.LedgerEntry, int64, error)
	SumByUser(ctx context.Context, userID int64) (decimal.Decimal, error)
}
