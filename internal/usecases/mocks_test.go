package usecases_test

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"custody.backend/internal/domain/entities"
	"custody.backend/internal/usecases"
)

// Mock ChainGateway
type MockChain struct {
	mock.Mock
}

func (m *MockChain) TokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockChain) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockChain) AccountResources(ctx context.Context, address string) (entities.AccountResources, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(entities.AccountResources), args.Error(1)
}

func (m *MockChain) TransferToken(ctx context.Context, key []byte, to string, amount decimal.Decimal, onSigned func(string) error) (string, error) {
	args := m.Called(ctx, key, to, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChain) TransferNative(ctx context.Context, key []byte, to string, sun int64) (string, error) {
	args := m.Called(ctx, key, to, sun)
	return args.String(0), args.Error(1)
}

func (m *MockChain) TransactionReceipt(ctx context.Context, txID string) (*entities.TxReceipt, error) {
	args := m.Called(ctx, txID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TxReceipt), args.Error(1)
}

// Mock Provisioner
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) EnsureEnergy(ctx context.Context, req usecases.EnergyRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvisioner) EnsureBandwidth(ctx context.Context, address string, required int64) (bool, error) {
	args := m.Called(ctx, address, required)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvisioner) ReleaseRentals(ctx context.Context, address string) error {
	args := m.Called(ctx, address)
	return args.Error(0)
}

// Mock Settler
type MockSettler struct {
	mock.Mock
}

// Sweep and Transfer run OnSigned for any returned tx id, as the executor does.
func (m *MockSettler) Sweep(ctx context.Context, req usecases.SweepRequest) (string, error) {
	args := m.Called(ctx, req)
	return runOnSigned(args.String(0), args.Error(1), req.OnSigned)
}

func (m *MockSettler) Transfer(ctx context.Context, req usecases.TransferRequest) (string, error) {
	args := m.Called(ctx, req)
	return runOnSigned(args.String(0), args.Error(1), req.OnSigned)
}

func runOnSigned(txID string, err error, onSigned func(string) error) (string, error) {
	if txID != "" && onSigned != nil {
		if herr := onSigned(txID); herr != nil {
			return "", herr
		}
	}
	return txID, err
}

func (m *MockSettler) AwaitConfirmation(ctx context.Context, txID string) (*entities.TxReceipt, error) {
	args := m.Called(ctx, txID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TxReceipt), args.Error(1)
}

// Mock Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, userID int64, message string) error {
	args := m.Called(ctx, userID, message)
	return args.Error(0)
}

// Mock FeatureGuard
type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Guard(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
