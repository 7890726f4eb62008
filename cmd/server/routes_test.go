package main

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"custody.backend/internal/interfaces/http/handlers"
)

func TestRegisterAPIV1Routes_RegistersKeyRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	registerAPIV1Routes(r, routeDeps{
		walletHandler:     &handlers.WalletHandler{},
		depositHandler:    &handlers.DepositHandler{},
		withdrawalHandler: &handlers.WithdrawalHandler{},
		poolHandler:       &handlers.PoolHandler{},
		adminHandler:      &handlers.AdminHandler{},
	}, func(c *gin.Context) { c.Next() })

	registered := map[string]bool{}
	for _, rt := range r.Routes() {
		registered[rt.Method+" "+rt.Path] = true
	}

	for _, want := range []string{
		"POST /api/v1/wallet",
		"GET /api/v1/wallet",
		"GET /api/v1/wallet/ledger",
		"PUT /api/v1/wallet/tx-password",
		"POST /api/v1/deposits",
		"GET /api/v1/deposits/:id",
		"POST /api/v1/withdrawals",
		"POST /api/v1/pools",
		"GET /api/v1/pools/:id",
		"POST /api/v1/pools/:id/fund",
		"POST /api/v1/pools/:id/distribute",
		"POST /api/v1/pools/:id/claim",
		"POST /api/v1/pools/:id/refund",
		"GET /api/v1/admin/flags",
		"PUT /api/v1/admin/flags/:key",
		"POST /api/v1/admin/reconcile",
	} {
		assert.True(t, registered[want], want)
	}
}
