package models

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Wallet{},
		&LedgerEntry{},
		&DepositOrder{},
		&Pool{},
		&PoolShare{},
		&ResourceRentalLog{},
		&SystemFlag{},
		&Withdrawal{},
		&ReconciliationRecord{},
	}
}
