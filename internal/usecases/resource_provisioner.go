package usecases

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/domain/repositories"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/metrics"
	"custody.backend/pkg/ratelimit"
)

const (
	rentalProvider    = "trongas"
	rentalNoteMaxLen  = 32
	rentalNoteDefault = "hb"
)

var rentalNoteDisallowed = regexp.MustCompile(`[^0-9A-Za-z_\-\p{Han}]`)

// ProvisionerConfig holds rental quantization and top-up settings.
type ProvisionerConfig struct {
	MinUnits          int64
	Step              int64
	Cooldown          time.Duration
	ActivationTimeout time.Duration
	PollInterval      time.Duration
	FeePayerAddr      string
	FeePayerKeyEnc    string
	BandwidthTopUpSun int64
}

// EnergyRequest asks for Required energy on Address. The order fields are
// recorded on the rental log.
type EnergyRequest struct {
	Address  string
	Required int64
	OrderID  string
	OrderNo  string
	Note     string
}

// ResourceProvisioner rents energy and tops up bandwidth so that transfers
// from custody addresses do not burn their own TRX.
type ResourceProvisioner struct {
	chain   ChainGateway
	renter  RentalProvider
	rentals repositories.RentalLogRepository
	keys    KeyVault
	guard   *ratelimit.Guard
	cfg     ProvisionerConfig
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewResourceProvisioner(
	chain ChainGateway,
	renter RentalProvider,
	rentals repositories.RentalLogRepository,
	keys KeyVault,
	guard *ratelimit.Guard,
	cfg ProvisionerConfig,
) *ResourceProvisioner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if guard == nil {
		guard = ratelimit.NewGuard(0, ratelimit.DefaultPolicies(0), ratelimit.DefaultBreakerRule())
	}
	return &ResourceProvisioner{
		chain:   chain,
		renter:  renter,
		rentals: rentals,
		keys:    keys,
		guard:   guard,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// EnsureEnergy returns ready=true once the address holds req.Required energy.
// Energy that never arrives within the activation timeout yields ready=false
// without error; the caller retries on its next pass.
func (p *ResourceProvisioner) EnsureEnergy(ctx context.Context, req EnergyRequest) (bool, error) {
	res, err := p.chain.AccountResources(ctx, req.Address)
	if err != nil {
		return false, err
	}
	available := res.AvailableEnergy()
	if available >= req.Required {
		return true, nil
	}

	now := p.now().UTC()
	_, err = p.rentals.FindActive(ctx, req.Address, now.Add(-p.cfg.Cooldown), now)
	switch {
	case err == nil:
		metrics.EnergyRentalsTotal.WithLabelValues("cooldown").Inc()
		logger.Info(ctx, "Energy rental still active, waiting for delegation",
			zap.String("address", req.Address),
			zap.Int64("available", available),
		)
	case errors.Is(err, domainerrors.ErrNotFound):
		if err := p.rent(ctx, req, req.Required-available); err != nil {
			return false, err
		}
	default:
		return false, err
	}

	return p.waitForEnergy(ctx, req.Address, req.Required)
}

func (p *ResourceProvisioner) rent(ctx context.Context, req EnergyRequest, missing int64) error {
	units := QuantizeRental(missing, p.cfg.MinUnits, p.cfg.Step)
	note := SanitizeRentalNote(req.Note)

	ref, err := p.renter.RentEnergy(ctx, req.Address, units, note)
	if err != nil {
		metrics.EnergyRentalsTotal.WithLabelValues("failed").Inc()
		logger.Error(ctx, "Energy rental failed",
			zap.String("address", req.Address),
			zap.String("order_no", req.OrderNo),
			zap.Int64("units", units),
			zap.Error(err),
		)
		return err
	}
	metrics.EnergyRentalsTotal.WithLabelValues("rented").Inc()

	now := p.now().UTC()
	return p.rentals.Create(ctx, &entities.ResourceRentalLog{
		Address:   req.Address,
		OrderID:   req.OrderID,
		OrderNo:   req.OrderNo,
		Provider:  rentalProvider,
		RentalRef: ref,
		Units:     units,
		RentedAt:  now,
		ExpireAt:  now.Add(p.cfg.Cooldown),
		Status:    entities.RentalStatusActive,
	})
}

func (p *ResourceProvisioner) waitForEnergy(ctx context.Context, address string, required int64) (bool, error) {
	deadline := p.now().Add(p.cfg.ActivationTimeout)
	for p.now().Before(deadline) {
		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return false, err
		}
		res, err := p.chain.AccountResources(ctx, address)
		if err != nil {
			logger.Warn(ctx, "Resource poll failed", zap.String("address", address), zap.Error(err))
			continue
		}
		if res.AvailableEnergy() >= required {
			return true, nil
		}
	}
	logger.Warn(ctx, "Energy not delegated before timeout", zap.String("address", address), zap.Int64("required", required))
	return false, nil
}

// EnsureBandwidth tops up TRX from the fee payer when neither the free nor the
// staked allowance covers required, so the transfer can burn TRX for bandwidth.
func (p *ResourceProvisioner) EnsureBandwidth(ctx context.Context, address string, required int64) (bool, error) {
	res, err := p.chain.AccountResources(ctx, address)
	if err != nil {
		return false, err
	}
	if res.FreeBandwidth() >= required || res.StakedBandwidth() >= required {
		return true, nil
	}
	if p.cfg.BandwidthTopUpSun <= 0 {
		return false, nil
	}

	topUp := decimal.New(p.cfg.BandwidthTopUpSun, -6)
	_, err = ratelimit.Do(ctx, p.guard, ratelimit.CallBandwidthTopUp, func(ctx context.Context) (string, error) {
		// re-read first: a previous attempt may already have landed
		trx, err := p.chain.NativeBalance(ctx, address)
		if err != nil {
			return "", err
		}
		if trx.GreaterThanOrEqual(topUp) {
			return "", nil
		}
		key, err := p.keys.Open(p.cfg.FeePayerKeyEnc)
		if err != nil || len(key) == 0 {
			return "", ratelimit.Permanent(fmt.Errorf("%w: fee payer key: %v", domainerrors.ErrMissingKeyMaterial, err))
		}
		txID, err := p.chain.TransferNative(ctx, key, address, p.cfg.BandwidthTopUpSun)
		if err != nil {
			if errors.Is(err, domainerrors.ErrTransferFailed) || errors.Is(err, domainerrors.ErrResourceShortage) {
				return "", ratelimit.Permanent(err)
			}
			return "", err
		}
		logger.Info(ctx, "Bandwidth top-up sent",
			zap.String("address", address),
			zap.String("tx_id", txID),
			zap.Int64("sun", p.cfg.BandwidthTopUpSun),
		)
		return txID, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseRentals marks the address's active rentals as consumed.
func (p *ResourceProvisioner) ReleaseRentals(ctx context.Context, address string) error {
	n, err := p.rentals.MarkUsed(ctx, address)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Debug(ctx, "Rentals released", zap.String("address", address), zap.Int64("count", n))
	}
	return nil
}

// QuantizeRental raises n to min and rounds it up to a multiple of step.
func QuantizeRental(n, min, step int64) int64 {
	if step < 1 {
		step = 1
	}
	if n < min {
		n = min
	}
	return (n + step - 1) / step * step
}

// SanitizeRentalNote keeps ASCII letters, digits, '_', '-' and CJK
// ideographs, truncated to 32 runes. An empty result becomes "hb".
func SanitizeRentalNote(s string) string {
	s = rentalNoteDisallowed.ReplaceAllString(s, "")
	if utf8.RuneCountInString(s) > rentalNoteMaxLen {
		s = string([]rune(s)[:rentalNoteMaxLen])
	}
	if s == "" {
		return rentalNoteDefault
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
