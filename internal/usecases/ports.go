package usecases

import (
	"context"

	"github.com/shopspring/decimal"

	"custody.backend/internal/domain/entities"
)

// ChainGateway is the TRON node as seen by the settlement engine.
type ChainGateway interface {
	TokenBalance(ctx context.Context, address string) (decimal.Decimal, error)
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	AccountResources(ctx context.Context, address string) (entities.AccountResources, error)
	// TransferToken calls onSigned with the tx id before broadcasting. A
	// transport failure during broadcast returns the tx id with
	// ErrBroadcastUnknown.
	TransferToken(ctx context.Context, key []byte, to string, amount decimal.Decimal, onSigned func(txID string) error) (string, error)
	TransferNative(ctx context.Context, key []byte, to string, sun int64) (string, error)
	// TransactionReceipt returns nil without error while the tx has no verdict.
	TransactionReceipt(ctx context.Context, txID string) (*entities.TxReceipt, error)
}

// RentalProvider rents energy for an address and returns the provider ref.
type RentalProvider interface {
	RentEnergy(ctx context.Context, address string, units int64, note string) (string, error)
}

// KeyVault seals and opens private keys at rest.
type KeyVault interface {
	Seal(plaintext []byte) (string, error)
	Open(sealedHex string) ([]byte, error)
}

// Notifier delivers a best-effort message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// Provisioner makes sure an address can pay for a transfer.
type Provisioner interface {
	EnsureEnergy(ctx context.Context, req EnergyRequest) (bool, error)
	EnsureBandwidth(ctx context.Context, address string, required int64) (bool, error)
	ReleaseRentals(ctx context.Context, address string) error
}

// Settler signs, broadcasts and confirms transfers.
type Settler interface {
	Sweep(ctx context.Context, req SweepRequest) (string, error)
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	AwaitConfirmation(ctx context.Context, txID string) (*entities.TxReceipt, error)
}

// FeatureGuard fails fast while a feature is locked.
type FeatureGuard interface {
	Guard(ctx context.Context, key string) error
}
