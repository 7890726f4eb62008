package usecases

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
)

// fakeClock advances only when sleep is called.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// stubChain replays scripted answers. The last resources entry repeats.
type stubChain struct {
	resources    []entities.AccountResources
	native       decimal.Decimal
	transferErrs []error
	receipts     []*entities.TxReceipt

	resourceCalls int
	tokenSends    int
	nativeSends   int
	receiptCalls  int
}

func (c *stubChain) TokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (c *stubChain) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return c.native, nil
}

func (c *stubChain) AccountResources(ctx context.Context, address string) (entities.AccountResources, error) {
	i := c.resourceCalls
	c.resourceCalls++
	if len(c.resources) == 0 {
		return entities.AccountResources{}, errors.New("no resources scripted")
	}
	if i >= len(c.resources) {
		i = len(c.resources) - 1
	}
	return c.resources[i], nil
}

func (c *stubChain) TransferToken(ctx context.Context, key []byte, to string, amount decimal.Decimal, onSigned func(string) error) (string, error) {
	i := c.tokenSends
	c.tokenSends++
	if onSigned != nil {
		if err := onSigned("tx-token"); err != nil {
			return "", err
		}
	}
	if i < len(c.transferErrs) && c.transferErrs[i] != nil {
		if errors.Is(c.transferErrs[i], domainerrors.ErrBroadcastUnknown) {
			return "tx-token", c.transferErrs[i]
		}
		return "", c.transferErrs[i]
	}
	return "tx-token", nil
}

func (c *stubChain) TransferNative(ctx context.Context, key []byte, to string, sun int64) (string, error) {
	c.nativeSends++
	return "tx-native", nil
}

func (c *stubChain) TransactionReceipt(ctx context.Context, txID string) (*entities.TxReceipt, error) {
	i := c.receiptCalls
	c.receiptCalls++
	if i < len(c.receipts) {
		return c.receipts[i], nil
	}
	return nil, nil
}

type stubRenter struct {
	units []int64
	notes []string
	err   error
}

func (r *stubRenter) RentEnergy(ctx context.Context, address string, units int64, note string) (string, error) {
	r.units = append(r.units, units)
	r.notes = append(r.notes, note)
	if r.err != nil {
		return "", r.err
	}
	return "rent-1", nil
}

type memRentals struct {
	logs   []*entities.ResourceRentalLog
	marked int
}

func (m *memRentals) Create(ctx context.Context, l *entities.ResourceRentalLog) error {
	m.logs = append(m.logs, l)
	return nil
}

func (m *memRentals) FindActive(ctx context.Context, address string, since, now time.Time) (*entities.ResourceRentalLog, error) {
	for _, l := range m.logs {
		if l.Address == address && l.Status == entities.RentalStatusActive && !l.RentedAt.Before(since) && l.ExpireAt.After(now) {
			return l, nil
		}
	}
	return nil, domainerrors.ErrNotFound
}

func (m *memRentals) MarkUsed(ctx context.Context, address string) (int64, error) {
	var n int64
	for _, l := range m.logs {
		if l.Address == address && l.Status == entities.RentalStatusActive {
			l.Status = entities.RentalStatusUsed
			n++
		}
	}
	m.marked += int(n)
	return n, nil
}

// plainVault treats the sealed form as the hex-free plaintext itself.
type plainVault struct{}

func (plainVault) Seal(plaintext []byte) (string, error) { return string(plaintext), nil }

func (plainVault) Open(sealed string) ([]byte, error) {
	if sealed == "corrupt" {
		return nil, errors.New("cipher: message authentication failed")
	}
	return []byte(sealed), nil
}

// stubProvisioner records calls and answers ready.
type stubProvisioner struct {
	energyReady    bool
	bandwidthReady bool
	energyCalls    int
	bandwidthCalls int
}

func (p *stubProvisioner) EnsureEnergy(ctx context.Context, req EnergyRequest) (bool, error) {
	p.energyCalls++
	return p.energyReady, nil
}

func (p *stubProvisioner) EnsureBandwidth(ctx context.Context, address string, required int64) (bool, error) {
	p.bandwidthCalls++
	return p.bandwidthReady, nil
}

func (p *stubProvisioner) ReleaseRentals(ctx context.Context, address string) error { return nil }
