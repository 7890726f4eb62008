package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody.backend/internal/config"
	"custody.backend/internal/domain/entities"
	"custody.backend/internal/infrastructure/repositories/sqlitetest"
	"custody.backend/pkg/crypto"
	"custody.backend/pkg/jwt"
	"custody.backend/pkg/redis"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// idleChain reports empty balances and never sends anything.
type idleChain struct{}

func (idleChain) TokenBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (idleChain) NativeBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (idleChain) AccountResources(context.Context, string) (entities.AccountResources, error) {
	return entities.AccountResources{}, nil
}

func (idleChain) TransferToken(context.Context, []byte, string, decimal.Decimal, func(string) error) (string, error) {
	panic("unexpected transfer")
}

func (idleChain) TransferNative(context.Context, []byte, string, int64) (string, error) {
	panic("unexpected transfer")
}

func (idleChain) TransactionReceipt(context.Context, string) (*entities.TxReceipt, error) {
	return nil, nil
}

type apiClient struct {
	t      *testing.T
	router http.Handler
	tokens *jwt.JWTService
}

func (a apiClient) do(method, path string, userID int64, role string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		token, err := a.tokens.GenerateAccessToken(userID, role)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func newTestAPI(t *testing.T) apiClient {
	t.Helper()
	mr := miniredis.RunT(t)
	redis.SetClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { redis.SetClient(nil) })

	vault, err := crypto.NewKeyVault(testVaultKey)
	require.NoError(t, err)

	cfg := config.Load()
	cfg.Tron.AggregateAddr = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	cfg.Settlement.ConfirmTimeout = 10 * time.Millisecond

	app := buildApp(cfg, sqlitetest.Open(t), idleChain{}, vault)
	tokens := jwt.NewJWTService("test-secret", time.Hour)
	return apiClient{t: t, router: newRouter(app.routes, tokens), tokens: tokens}
}

func TestAPI_WalletAndDepositFlow(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/v1/wallet", 0, "", nil).Code)

	w := api.do(http.MethodPost, "/api/v1/wallet", 21, jwt.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.Contains(w.Body.String(), `"depositAddress":"T`))

	w = api.do(http.MethodGet, "/api/v1/wallet", 21, jwt.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":"0"`)

	w = api.do(http.MethodPost, "/api/v1/deposits", 21, jwt.RoleUser, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Order entities.DepositOrder `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, entities.DepositStatusWaiting, created.Order.Status)

	w = api.do(http.MethodGet, "/api/v1/deposits/"+created.Order.ID.String(), 21, jwt.RoleUser, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/api/v1/deposits/"+created.Order.ID.String(), 22, jwt.RoleUser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "orders are private to their owner")
}

func TestAPI_PoolFundingNeedsBalance(t *testing.T) {
	api := newTestAPI(t)
	api.do(http.MethodPost, "/api/v1/wallet", 30, jwt.RoleUser, nil)

	w := api.do(http.MethodPost, "/api/v1/pools", 30, jwt.RoleUser, map[string]any{
		"policy": "average", "totalAmount": "10", "shareCount": 4,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Pool entities.Pool `json:"pool"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = api.do(http.MethodPost, "/api/v1/pools/"+created.Pool.ID.String()+"/fund", 30, jwt.RoleUser, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/api/v1/pools/"+created.Pool.ID.String()+"/claim", 31, jwt.RoleUser, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "unfunded pools are not claimable")
}

func TestAPI_AdminRoutes(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, "/api/v1/admin/flags", 5, jwt.RoleUser, nil).Code)

	w := api.do(http.MethodPost, "/api/v1/admin/reconcile", 1, jwt.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"OK"`)

	w = api.do(http.MethodPut, "/api/v1/admin/flags/"+entities.FlagLockWithdrawals, 1, jwt.RoleAdmin, map[string]bool{"locked": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, "/api/v1/withdrawals", 5, jwt.RoleUser, map[string]string{
		"toAddress": "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", "amount": "10",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/admin/flags", 1, jwt.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"value":"1"`)
}
