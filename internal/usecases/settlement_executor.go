package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/pkg/logger"
)

// ExecutorConfig holds resource requirements and confirmation timing.
type ExecutorConfig struct {
	SweepEnergy         int64
	WithdrawEnergy      int64
	BandwidthRequire    int64
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
}

// SweepRequest moves the full balance of a deposit address to the aggregate.
type SweepRequest struct {
	Address     string
	KeyCipher   string
	Amount      decimal.Decimal
	Destination string
	OrderID     string
	OrderNo     string
	// OnSigned runs before each broadcast; an error aborts it.
	OnSigned func(txID string) error
}

// TransferRequest sends funds out of the aggregate account.
type TransferRequest struct {
	From      string
	KeyCipher string
	To        string
	Amount    decimal.Decimal
	OrderNo   string
	OnSigned  func(txID string) error
}

// SettlementExecutor signs and broadcasts USDT transfers and classifies their
// on-chain verdict.
type SettlementExecutor struct {
	chain       ChainGateway
	provisioner Provisioner
	keys        KeyVault
	cfg         ExecutorConfig
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewSettlementExecutor(chain ChainGateway, provisioner Provisioner, keys KeyVault, cfg ExecutorConfig) *SettlementExecutor {
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = 3 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &SettlementExecutor{
		chain:       chain,
		provisioner: provisioner,
		keys:        keys,
		cfg:         cfg,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Sweep transfers req.Amount from the deposit address and returns the tx id.
func (e *SettlementExecutor) Sweep(ctx context.Context, req SweepRequest) (string, error) {
	return e.send(ctx, req.Address, req.KeyCipher, req.Destination, req.Amount, e.cfg.SweepEnergy, req.OrderID, req.OrderNo, req.OnSigned)
}

// Transfer sends req.Amount from the aggregate account.
func (e *SettlementExecutor) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	return e.send(ctx, req.From, req.KeyCipher, req.To, req.Amount, e.cfg.WithdrawEnergy, "", req.OrderNo, req.OnSigned)
}

// send broadcasts once. A refusal for missing bandwidth or energy triggers one
// provisioning pass and exactly one more attempt. An unknown broadcast
// outcome is returned with its tx id and never retried.
func (e *SettlementExecutor) send(ctx context.Context, from, keyCipher, to string, amount decimal.Decimal, energy int64, orderID, orderNo string, onSigned func(string) error) (string, error) {
	key, err := e.openKey(keyCipher)
	if err != nil {
		logger.Error(ctx, "Key material unavailable", zap.String("address", from), zap.String("order_no", orderNo), zap.Error(err))
		return "", err
	}

	txID, err := e.chain.TransferToken(ctx, key, to, amount, onSigned)
	if err == nil || errors.Is(err, domainerrors.ErrBroadcastUnknown) {
		return txID, err
	}
	if !errors.Is(err, domainerrors.ErrResourceShortage) {
		return "", err
	}

	logger.Warn(ctx, "Transfer refused for resources, provisioning and retrying once",
		zap.String("address", from),
		zap.String("order_no", orderNo),
		zap.Error(err),
	)
	if err := e.reprovision(ctx, from, energy, orderID, orderNo); err != nil {
		return "", err
	}
	return e.chain.TransferToken(ctx, key, to, amount, onSigned)
}

func (e *SettlementExecutor) reprovision(ctx context.Context, address string, energy int64, orderID, orderNo string) error {
	ready, err := e.provisioner.EnsureEnergy(ctx, EnergyRequest{
		Address: address, Required: energy, OrderID: orderID, OrderNo: orderNo, Note: orderNo,
	})
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("%w: energy not delegated", domainerrors.ErrResourceShortage)
	}
	ready, err = e.provisioner.EnsureBandwidth(ctx, address, e.cfg.BandwidthRequire)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("%w: bandwidth not available", domainerrors.ErrResourceShortage)
	}
	return nil
}

func (e *SettlementExecutor) openKey(keyCipher string) ([]byte, error) {
	if keyCipher == "" {
		return nil, domainerrors.ErrMissingKeyMaterial
	}
	key, err := e.keys.Open(keyCipher)
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrMissingKeyMaterial, err)
	}
	return key, nil
}

// AwaitConfirmation polls until the network reports a verdict for txID. It
// returns ErrConfirmationPending when the bounded wait elapses; the caller
// keeps the tx id and checks again later. Polling ignores the caller's
// cancellation so a broadcast is never abandoned halfway.
func (e *SettlementExecutor) AwaitConfirmation(ctx context.Context, txID string) (*entities.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ConfirmTimeout)
	defer cancel()

	deadline := e.now().Add(e.cfg.ConfirmTimeout)
	for {
		receipt, err := e.chain.TransactionReceipt(ctx, txID)
		if err != nil {
			logger.Warn(ctx, "Receipt lookup failed", zap.String("tx_id", txID), zap.Error(err))
		} else if receipt != nil {
			return classifyReceipt(receipt)
		}

		if !e.now().Add(e.cfg.ConfirmPollInterval).Before(deadline) {
			return nil, fmt.Errorf("%w: %s", domainerrors.ErrConfirmationPending, txID)
		}
		if err := e.sleep(ctx, e.cfg.ConfirmPollInterval); err != nil {
			return nil, fmt.Errorf("%w: %s", domainerrors.ErrConfirmationPending, txID)
		}
	}
}

func classifyReceipt(r *entities.TxReceipt) (*entities.TxReceipt, error) {
	switch {
	case r.Confirmed():
		return r, nil
	case r.ResourceShortage():
		return r, fmt.Errorf("%w: tx %s ended %s", domainerrors.ErrResourceShortage, r.TxID, r.Result)
	default:
		return r, fmt.Errorf("%w: tx %s ended %s", domainerrors.ErrTransferFailed, r.TxID, r.Result)
	}
}
