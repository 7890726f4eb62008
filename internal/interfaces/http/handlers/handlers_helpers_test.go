package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"custody.backend/internal/domain/entities"
	"custody.backend/internal/interfaces/http/middleware"
	"custody.backend/pkg/utils"
)

// asUser injects the authenticated user the way AuthMiddleware does
func asUser(userID int64, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID > 0 {
			c.Set(middleware.UserIDKey, userID)
			c.Set(middleware.UserRoleKey, role)
		}
		c.Next()
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type walletServiceMock struct{ mock.Mock }

func (m *walletServiceMock) EnsureWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	args := m.Called(ctx, userID)
	w, _ := args.Get(0).(*entities.Wallet)
	return w, args.Error(1)
}

func (m *walletServiceMock) SetTxPassword(ctx context.Context, userID int64, password string) error {
	return m.Called(ctx, userID, password).Error(0)
}

type ledgerReaderMock struct{ mock.Mock }

func (m *ledgerReaderMock) GetWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	args := m.Called(ctx, userID)
	w, _ := args.Get(0).(*entities.Wallet)
	return w, args.Error(1)
}

func (m *ledgerReaderMock) ListEntries(ctx context.Context, userID int64, p utils.PaginationParams) ([]*entities.LedgerEntry, int64, error) {
	args := m.Called(ctx, userID, p)
	entries, _ := args.Get(0).([]*entities.LedgerEntry)
	return entries, args.Get(1).(int64), args.Error(2)
}

type depositServiceMock struct{ mock.Mock }

func (m *depositServiceMock) CreateOrder(ctx context.Context, userID int64, expected *decimal.Decimal) (*entities.DepositOrder, error) {
	args := m.Called(ctx, userID, expected)
	o, _ := args.Get(0).(*entities.DepositOrder)
	return o, args.Error(1)
}

func (m *depositServiceMock) GetOrder(ctx context.Context, userID int64, id uuid.UUID) (*entities.DepositOrder, error) {
	args := m.Called(ctx, userID, id)
	o, _ := args.Get(0).(*entities.DepositOrder)
	return o, args.Error(1)
}

type withdrawalServiceMock struct{ mock.Mock }

func (m *withdrawalServiceMock) Withdraw(ctx context.Context, in entities.WithdrawInput) (*entities.Withdrawal, error) {
	args := m.Called(ctx, in)
	w, _ := args.Get(0).(*entities.Withdrawal)
	return w, args.Error(1)
}

type poolServiceMock struct{ mock.Mock }

func (m *poolServiceMock) CreatePool(ctx context.Context, in entities.CreatePoolInput) (*entities.Pool, error) {
	args := m.Called(ctx, in)
	p, _ := args.Get(0).(*entities.Pool)
	return p, args.Error(1)
}

func (m *poolServiceMock) Fund(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.Pool, error) {
	args := m.Called(ctx, ownerID, poolID)
	p, _ := args.Get(0).(*entities.Pool)
	return p, args.Error(1)
}

func (m *poolServiceMock) MarkDistributed(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.Pool, error) {
	args := m.Called(ctx, ownerID, poolID)
	p, _ := args.Get(0).(*entities.Pool)
	return p, args.Error(1)
}

func (m *poolServiceMock) Claim(ctx context.Context, poolID uuid.UUID, claimantID int64) (*entities.ClaimResult, error) {
	args := m.Called(ctx, poolID, claimantID)
	r, _ := args.Get(0).(*entities.ClaimResult)
	return r, args.Error(1)
}

func (m *poolServiceMock) Refund(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.RefundResult, error) {
	args := m.Called(ctx, ownerID, poolID)
	r, _ := args.Get(0).(*entities.RefundResult)
	return r, args.Error(1)
}

func (m *poolServiceMock) GetPool(ctx context.Context, poolID uuid.UUID) (*entities.Pool, error) {
	args := m.Called(ctx, poolID)
	p, _ := args.Get(0).(*entities.Pool)
	return p, args.Error(1)
}

type flagServiceMock struct{ mock.Mock }

func (m *flagServiceMock) Snapshot(ctx context.Context) ([]*entities.SystemFlag, error) {
	args := m.Called(ctx)
	f, _ := args.Get(0).([]*entities.SystemFlag)
	return f, args.Error(1)
}

func (m *flagServiceMock) SetLocked(ctx context.Context, key string, locked bool) error {
	return m.Called(ctx, key, locked).Error(0)
}

type reconcileServiceMock struct{ mock.Mock }

func (m *reconcileServiceMock) Run(ctx context.Context) (*entities.ReconciliationRecord, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*entities.ReconciliationRecord)
	return r, args.Error(1)
}
