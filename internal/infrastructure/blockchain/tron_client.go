package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/ratelimit"
)

// TRX has 6 decimals; amounts on the wire are in sun.
const trxDecimals = 6

// tronRPC is the subset of the gotron-sdk gRPC client the gateway uses.
type tronRPC interface {
	GetAccount(addr string) (*core.Account, error)
	GetAccountResource(addr string) (*api.AccountResourceMessage, error)
	TRC20ContractBalance(addr, contractAddress string) (*big.Int, error)
	TRC20Send(from, to, contract string, amount *big.Int, feeLimit int64) (*api.TransactionExtention, error)
	Transfer(from, toAddress string, amount int64) (*api.TransactionExtention, error)
	Broadcast(tx *core.Transaction) (*api.Return, error)
	GetTransactionInfoByID(id string) (*core.TransactionInfo, error)
	Stop()
}

var dialTronClient = func(url, apiKey string, timeout time.Duration) (tronRPC, error) {
	c := client.NewGrpcClientWithTimeout(url, timeout)
	if apiKey != "" {
		if err := c.SetAPIKey(apiKey); err != nil {
			return nil, fmt.Errorf("failed to set api key: %w", err)
		}
	}
	if err := c.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return nil, fmt.Errorf("failed to start TRON gRPC client: %w", err)
	}
	return c, nil
}

// TronOptions configures the gateway.
type TronOptions struct {
	GRPCURL      string
	APIKey       string
	USDTContract string
	USDTDecimals int32
	FeeLimitSun  int64
	CallTimeout  time.Duration
}

// TronClient reads balances and resources from a TRON node and broadcasts
// signed USDT and TRX transfers. Every call runs through the guard of its
// call type.
type TronClient struct {
	rpc   tronRPC
	opts  TronOptions
	guard *ratelimit.Guard
}

// NewTronClient dials the node.
func NewTronClient(opts TronOptions, guard *ratelimit.Guard) (*TronClient, error) {
	rpc, err := dialTronClient(opts.GRPCURL, opts.APIKey, opts.CallTimeout)
	if err != nil {
		return nil, err
	}
	return newTronClientWithRPC(rpc, opts, guard), nil
}

func newTronClientWithRPC(rpc tronRPC, opts TronOptions, guard *ratelimit.Guard) *TronClient {
	if opts.USDTDecimals == 0 {
		opts.USDTDecimals = 6
	}
	if guard == nil {
		guard = ratelimit.NewGuard(0, ratelimit.DefaultPolicies(opts.CallTimeout), ratelimit.DefaultBreakerRule())
	}
	return &TronClient{rpc: rpc, opts: opts, guard: guard}
}

// Close stops the underlying gRPC connection
func (c *TronClient) Close() {
	if c.rpc != nil {
		c.rpc.Stop()
	}
}

// TokenBalance returns the USDT balance of addr.
func (c *TronClient) TokenBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	v, err := ratelimit.Do(ctx, c.guard, ratelimit.CallChainRead, func(ctx context.Context) (*big.Int, error) {
		return c.rpc.TRC20ContractBalance(addr, c.opts.USDTContract)
	})
	if err != nil {
		return decimal.Zero, external("token balance", err)
	}
	return FromBaseUnits(v, c.opts.USDTDecimals), nil
}

// NativeBalance returns the TRX balance of addr. An account that was never
// activated has a zero balance.
func (c *TronClient) NativeBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	acc, err := ratelimit.Do(ctx, c.guard, ratelimit.CallChainRead, func(ctx context.Context) (*core.Account, error) {
		acc, err := c.rpc.GetAccount(addr)
		if err != nil && isNotFound(err) {
			return &core.Account{}, nil
		}
		return acc, err
	})
	if err != nil {
		return decimal.Zero, external("account", err)
	}
	return FromBaseUnits(big.NewInt(acc.GetBalance()), trxDecimals), nil
}

// AccountResources returns the bandwidth and energy snapshot of addr.
func (c *TronClient) AccountResources(ctx context.Context, addr string) (entities.AccountResources, error) {
	res, err := ratelimit.Do(ctx, c.guard, ratelimit.CallChainRead, func(ctx context.Context) (*api.AccountResourceMessage, error) {
		return c.rpc.GetAccountResource(addr)
	})
	if err != nil {
		return entities.AccountResources{}, external("account resources", err)
	}
	return entities.AccountResources{
		FreeNetLimit: res.GetFreeNetLimit(),
		FreeNetUsed:  res.GetFreeNetUsed(),
		NetLimit:     res.GetNetLimit(),
		NetUsed:      res.GetNetUsed(),
		EnergyLimit:  res.GetEnergyLimit(),
		EnergyUsed:   res.GetEnergyUsed(),
	}, nil
}

// TransferToken sends amount USDT from the key's account to `to` and returns
// the broadcast tx id. onSigned, when set, sees the tx id before broadcast and
// can veto it by returning an error.
func (c *TronClient) TransferToken(ctx context.Context, key []byte, to string, amount decimal.Decimal, onSigned func(txID string) error) (string, error) {
	k, err := ParseKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainerrors.ErrMissingKeyMaterial, err)
	}
	if err := ValidateAddress(to); err != nil {
		return "", err
	}
	units := ToBaseUnits(amount, c.opts.USDTDecimals)
	if units.Sign() <= 0 {
		return "", fmt.Errorf("%w: transfer amount must be positive", domainerrors.ErrInvalidInput)
	}

	ext, err := ratelimit.Do(ctx, c.guard, ratelimit.CallChainRead, func(ctx context.Context) (*api.TransactionExtention, error) {
		return c.rpc.TRC20Send(k.Address(), to, c.opts.USDTContract, units, c.opts.FeeLimitSun)
	})
	if err != nil {
		return "", external("build trc20 transfer", err)
	}
	return c.signAndBroadcast(ctx, k, ext, onSigned, zap.String("to", to), zap.String("amount", amount.String()))
}

// TransferNative sends sun TRX from the key's account to `to`.
func (c *TronClient) TransferNative(ctx context.Context, key []byte, to string, sun int64) (string, error) {
	k, err := ParseKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainerrors.ErrMissingKeyMaterial, err)
	}
	if err := ValidateAddress(to); err != nil {
		return "", err
	}
	ext, err := ratelimit.Do(ctx, c.guard, ratelimit.CallChainRead, func(ctx context.Context) (*api.TransactionExtention, error) {
		return c.rpc.Transfer(k.Address(), to, sun)
	})
	if err != nil {
		return "", external("build trx transfer", err)
	}
	return c.signAndBroadcast(ctx, k, ext, nil, zap.String("to", to), zap.Int64("sun", sun))
}

// signAndBroadcast returns the tx id together with ErrBroadcastUnknown when
// the broadcast call itself failed: the node may have relayed the tx anyway.
// Errors raised before the request left this process return no tx id.
func (c *TronClient) signAndBroadcast(ctx context.Context, k *Key, ext *api.TransactionExtention, onSigned func(string) error, fields ...zap.Field) (string, error) {
	if ext == nil || ext.GetTransaction() == nil {
		return "", external("build transaction", errors.New("empty transaction"))
	}
	if r := ext.GetResult(); r != nil && !r.GetResult() && r.GetCode() != api.Return_SUCCESS {
		return "", rejection(r)
	}

	txID, err := k.Sign(ext.Transaction)
	if err != nil {
		return "", err
	}
	if onSigned != nil {
		if err := onSigned(txID); err != nil {
			return "", err
		}
	}

	sent := false
	ret, err := ratelimit.Do(ctx, c.guard, ratelimit.CallChainBroadcast, func(ctx context.Context) (*api.Return, error) {
		sent = true
		return c.rpc.Broadcast(ext.Transaction)
	})
	if err != nil {
		if !sent {
			return "", external("broadcast", err)
		}
		logger.Warn(ctx, "Broadcast outcome unknown",
			append([]zap.Field{zap.String("tx_id", txID), zap.String("from", k.Address()), zap.Error(err)}, fields...)...)
		return txID, fmt.Errorf("%w: tx %s: %w", domainerrors.ErrBroadcastUnknown, txID, external("broadcast", err))
	}
	if !ret.GetResult() {
		return "", rejection(ret)
	}

	logger.Info(ctx, "Transaction broadcast",
		append([]zap.Field{zap.String("tx_id", txID), zap.String("from", k.Address())}, fields...)...)
	return txID, nil
}

// TransactionReceipt returns the verdict of txID, or nil when the network
// has not produced one yet.
func (c *TronClient) TransactionReceipt(ctx context.Context, txID string) (*entities.TxReceipt, error) {
	info, err := ratelimit.Do(ctx, c.guard, ratelimit.CallChainReceipt, func(ctx context.Context) (*core.TransactionInfo, error) {
		info, err := c.rpc.GetTransactionInfoByID(txID)
		if err != nil && isNotFound(err) {
			return nil, nil
		}
		return info, err
	})
	if err != nil {
		return nil, external("transaction info", err)
	}
	if info == nil || len(info.GetId()) == 0 || info.GetBlockNumber() == 0 {
		return nil, nil
	}
	return receiptFromInfo(txID, info), nil
}

func receiptFromInfo(txID string, info *core.TransactionInfo) *entities.TxReceipt {
	receipt := info.GetReceipt()
	result := entities.ReceiptResult(receipt.GetResult().String())
	// Native transfers carry no contract result; the info code decides.
	if receipt.GetResult() == core.Transaction_Result_DEFAULT {
		if info.GetResult() == core.TransactionInfo_SUCESS {
			result = entities.ReceiptSuccess
		} else {
			result = entities.ReceiptRevert
		}
	}
	return &entities.TxReceipt{
		TxID:        txID,
		BlockNumber: info.GetBlockNumber(),
		Result:      result,
		EnergyUsed:  receipt.GetEnergyUsageTotal(),
		NetUsed:     receipt.GetNetUsage(),
		Message:     string(info.GetResMessage()),
	}
}

// rejection classifies a node refusal. Bandwidth and energy refusals are a
// resource shortage the caller can fix by provisioning; anything else is final.
func rejection(r *api.Return) error {
	msg := string(r.GetMessage())
	code := r.GetCode().String()
	lower := strings.ToLower(msg + " " + code)
	if strings.Contains(lower, "bandwith") || strings.Contains(lower, "bandwidth") ||
		strings.Contains(lower, "energy") || strings.Contains(lower, "balance is not sufficient") {
		return fmt.Errorf("%w: %s %s", domainerrors.ErrResourceShortage, code, msg)
	}
	return fmt.Errorf("%w: %s %s", domainerrors.ErrTransferFailed, code, msg)
}

func external(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domainerrors.ErrExternalCall, op, err)
}

func isNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
