// Package app wires the settlement engine's services from configuration.
// Both the API server and the operator CLI build on it.
package app

import (
	"fmt"

	"gorm.io/gorm"

	"custody.backend/internal/config"
	"custody.backend/internal/infrastructure/blockchain"
	"custody.backend/internal/infrastructure/notify"
	"custody.backend/internal/infrastructure/rental"
	"custody.backend/internal/infrastructure/repositories"
	"custody.backend/internal/usecases"
	"custody.backend/pkg/ratelimit"
	"custody.backend/pkg/redis"
)

// Container holds the services shared by the HTTP layer and the jobs.
type Container struct {
	Ledger      *usecases.LedgerService
	Flags       *usecases.FlagService
	Wallets     *usecases.WalletUsecase
	Deposits    *usecases.DepositOrderUsecase
	Withdrawals *usecases.WithdrawalUsecase
	Pools       *usecases.PoolUsecase
	Reconciler  *usecases.ReconciliationUsecase
}

// DialChain connects to the configured TRON node. Close the factory on exit.
func DialChain(cfg *config.Config) (*blockchain.ClientFactory, *blockchain.TronClient, error) {
	guard := ratelimit.NewGuard(cfg.Tron.QPS, ratelimit.DefaultPolicies(cfg.Tron.CallTimeout), ratelimit.DefaultBreakerRule())
	factory := blockchain.NewClientFactory(blockchain.TronOptions{
		GRPCURL:      cfg.Tron.GRPCURL,
		APIKey:       cfg.Tron.APIKey,
		USDTContract: cfg.Tron.USDTContract,
		USDTDecimals: cfg.Tron.USDTDecimals,
		FeeLimitSun:  cfg.Tron.FeeLimitSun,
		CallTimeout:  cfg.Tron.CallTimeout,
	}, guard)

	chain, err := factory.GetTronClient(cfg.Tron.GRPCURL)
	if err != nil {
		factory.Close()
		return nil, nil, fmt.Errorf("failed to connect to TRON node: %w", err)
	}
	return factory, chain, nil
}

// New builds every service around one database and chain gateway. Redis
// comes from the package client; a nil client disables the flag cache.
func New(cfg *config.Config, db *gorm.DB, chain usecases.ChainGateway, vault usecases.KeyVault) *Container {
	uow := repositories.NewUnitOfWork(db)
	walletRepo := repositories.NewWalletRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db)
	orderRepo := repositories.NewDepositOrderRepository(db)
	poolRepo := repositories.NewPoolRepository(db)
	rentalRepo := repositories.NewRentalLogRepository(db)
	flagRepo := repositories.NewSystemFlagRepository(db)
	withdrawalRepo := repositories.NewWithdrawalRepository(db)
	reconRepo := repositories.NewReconciliationRepository(db)

	rentalGuard := ratelimit.NewGuard(0, ratelimit.DefaultPolicies(0), ratelimit.DefaultBreakerRule())
	renter := rental.NewTrongasClient(cfg.Rental.Endpoint, cfg.Rental.APIKey, cfg.Rental.RentTime, nil, rentalGuard)
	var notifier usecases.Notifier = notify.LogNotifier{}
	if rdb := redis.GetClient(); rdb != nil {
		notifier = notify.NewRedisNotifier(rdb, cfg.Redis.NotifyChannel)
	}

	provisioner := usecases.NewResourceProvisioner(chain, renter, rentalRepo, vault, rentalGuard, usecases.ProvisionerConfig{
		MinUnits:          cfg.Rental.MinUnits,
		Step:              cfg.Rental.Step,
		Cooldown:          cfg.Rental.Cooldown,
		ActivationTimeout: cfg.Rental.ActivationTimeout,
		PollInterval:      cfg.Rental.PollInterval,
		FeePayerAddr:      cfg.Tron.FeePayerAddr,
		FeePayerKeyEnc:    cfg.Tron.FeePayerKeyEnc,
		BandwidthTopUpSun: cfg.Settlement.BandwidthTopUpSun,
	})
	settler := usecases.NewSettlementExecutor(chain, provisioner, vault, usecases.ExecutorConfig{
		SweepEnergy:         cfg.Settlement.SweepEnergyRequire,
		WithdrawEnergy:      cfg.Settlement.WithdrawEnergyRequire,
		BandwidthRequire:    cfg.Settlement.BandwidthRequire,
		ConfirmTimeout:      cfg.Settlement.ConfirmTimeout,
		ConfirmPollInterval: cfg.Settlement.ConfirmPollInterval,
	})

	ledger := usecases.NewLedgerService(uow, walletRepo, ledgerRepo)
	flags := usecases.NewFlagService(flagRepo, redis.GetClient())
	wallets := usecases.NewWalletUsecase(walletRepo, vault)

	return &Container{
		Ledger:  ledger,
		Flags:   flags,
		Wallets: wallets,
		Deposits: usecases.NewDepositOrderUsecase(uow, orderRepo, walletRepo, ledgerRepo, ledger, wallets, chain, provisioner, settler, notifier, usecases.DepositConfig{
			MinDeposit:       cfg.Settlement.MinDeposit,
			Epsilon:          cfg.Settlement.Epsilon,
			OrderExpiry:      cfg.Settlement.OrderExpiry,
			StaleSweepAfter:  cfg.Settlement.StaleSweepAfter,
			BatchLimit:       cfg.Settlement.BatchLimit,
			SweepEnergy:      cfg.Settlement.SweepEnergyRequire,
			BandwidthRequire: cfg.Settlement.BandwidthRequire,
			AggregateAddr:    cfg.Tron.AggregateAddr,
		}),
		Withdrawals: usecases.NewWithdrawalUsecase(uow, withdrawalRepo, ledger, wallets, flags, provisioner, settler, notifier, usecases.WithdrawalConfig{
			MinWithdraw:      cfg.Settlement.MinWithdraw,
			Fee:              cfg.Settlement.WithdrawFee,
			WithdrawEnergy:   cfg.Settlement.WithdrawEnergyRequire,
			BandwidthRequire: cfg.Settlement.BandwidthRequire,
			AggregateAddr:    cfg.Tron.AggregateAddr,
			AggregateKeyEnc:  cfg.Tron.AggregateKeyEnc,
			BatchLimit:       cfg.Settlement.BatchLimit,
		}),
		Pools: usecases.NewPoolUsecase(uow, poolRepo, ledger, flags, usecases.PoolConfig{
			TTL:       cfg.Settlement.PoolTTL,
			MaxShares: cfg.Settlement.PoolMaxShares,
		}),
		Reconciler: usecases.NewReconciliationUsecase(chain, walletRepo, reconRepo, flags, cfg.Tron.AggregateAddr, cfg.Settlement.Epsilon),
	}
}
