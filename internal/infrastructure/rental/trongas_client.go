package rental

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/ratelimit"
)

const (
	// ProviderName is recorded on every rental log row.
	ProviderName    = "trongas"
	DefaultEndpoint = "https://trongas.io/api/batchPay"

	codeOK = 10000
)

// TrongasClient rents energy for an address from the trongas batchPay API.
type TrongasClient struct {
	endpoint string
	apiKey   string
	rentTime int
	http     *http.Client
	guard    *ratelimit.Guard
}

// NewTrongasClient builds a client. httpClient may be nil.
func NewTrongasClient(endpoint, apiKey string, rentTime int, httpClient *http.Client, guard *ratelimit.Guard) *TrongasClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if rentTime <= 0 {
		rentTime = 1
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if guard == nil {
		guard = ratelimit.NewGuard(0, ratelimit.DefaultPolicies(0), ratelimit.DefaultBreakerRule())
	}
	return &TrongasClient{endpoint: endpoint, apiKey: apiKey, rentTime: rentTime, http: httpClient, guard: guard}
}

type batchPayRequest struct {
	APIKey         string `json:"apiKey"`
	PayNums        int64  `json:"payNums"`
	RentTime       int    `json:"rentTime"`
	ReceiveAddress string `json:"receiveAddress"`
	OrderNotes     string `json:"orderNotes"`
}

type batchPayResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		OrderID json.RawMessage `json:"orderId"`
	} `json:"data"`
}

// RentEnergy asks the provider to delegate units of energy to address and
// returns the provider's order id. units and note must already be quantized
// and sanitized.
func (c *TrongasClient) RentEnergy(ctx context.Context, address string, units int64, note string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: rental api key is not configured", domainerrors.ErrExternalCall)
	}
	body, err := json.Marshal(batchPayRequest{
		APIKey:         c.apiKey,
		PayNums:        units,
		RentTime:       c.rentTime,
		ReceiveAddress: address,
		OrderNotes:     note,
	})
	if err != nil {
		return "", err
	}

	logger.Info(ctx, "Requesting energy rental",
		zap.String("address", address),
		zap.Int64("units", units),
		zap.String("note", note),
	)

	resp, err := ratelimit.Do(ctx, c.guard, ratelimit.CallRentalRequest, func(ctx context.Context) (*batchPayResponse, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return "", fmt.Errorf("%w: energy rental: %v", domainerrors.ErrExternalCall, err)
	}
	return orderRef(resp.Data.OrderID), nil
}

func (c *TrongasClient) post(ctx context.Context, body []byte) (*batchPayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, ratelimit.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("provider status %d", res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return nil, ratelimit.Permanent(fmt.Errorf("provider status %d: %s", res.StatusCode, truncate(raw)))
	}

	var out batchPayResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, ratelimit.Permanent(fmt.Errorf("decode provider response: %w", err))
	}
	if out.Code != codeOK {
		// business rejections (bad note, low credit) do not heal by retrying
		return nil, ratelimit.Permanent(fmt.Errorf("provider rejected order: code=%d msg=%s", out.Code, out.Msg))
	}
	return &out, nil
}

// orderRef accepts both numeric and string order ids.
func orderRef(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200])
	}
	return string(b)
}
