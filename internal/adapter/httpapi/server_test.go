package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabumarket/kabu-market-backend/internal/domain"
	"github.com/kabumarket/kabu-market-backend/internal/observability"
	"github.com/kabumarket/kabu-market-backend/internal/usecase/market"
)

// stubOracle quotes a fixed price.
type stubOracle struct {
	price  int64
	bought int64
}

func (o *stubOracle) PriceToday(context.Context, string) (int64, int64, error) {
	return o.price, o.bought, nil
}

// stubStore serves a fixed batch set and records writes.
type stubStore struct {
	batches   []*domain.StockBatch
	purchased *domain.StockBatch
	saleIDs   []uuid.UUID
}

func (s *stubStore) ListByExpiryAsc(_ context.Context, _ string, limit int) ([]*domain.StockBatch, error) {
	if limit > 0 && len(s.batches) > limit {
		return s.batches[:limit], nil
	}
	return s.batches, nil
}

func (s *stubStore) Count(context.Context, string) (int64, error) {
	return int64(len(s.batches)), nil
}

func (s *stubStore) SumQuantity(context.Context, string) (int64, error) {
	var sum int64
	for _, b := range s.batches {
		sum += b.Quantity
	}
	return sum, nil
}

func (s *stubStore) RecordPurchase(_ context.Context, batch *domain.StockBatch) error {
	s.purchased = batch
	return nil
}

func (s *stubStore) RecordSale(_ context.Context, _ string, deleteIDs []uuid.UUID, _ *domain.PartialConsumption) (int64, error) {
	s.saleIDs = deleteIDs
	return int64(len(deleteIDs)), nil
}

func newTestServer(oracle market.PriceOracle, store *stubStore) *Server {
	cfg := market.Config{
		ExpireDays:   7,
		ServiceFee:   decimal.NewFromFloat(0.03),
		MaxBuyPerDay: 10,
	}
	engine := market.NewService(oracle, store, store, cfg, observability.NewMetrics(prometheus.NewRegistry()))
	return NewServer(engine, zerolog.Nop())
}

const testToken = "test-token"

func doRequest(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestBuyEndpoint(t *testing.T) {
	store := &stubStore{}
	server := newTestServer(&stubOracle{price: 20}, store)
	router := server.Router(testToken)

	rec := doRequest(t, router, "/v1/market/buy", map[string]any{
		"user_id":      "user-1",
		"coin_balance": 1000,
		"amount":       5,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		NewCoinBalance int64 `json:"new_coin_balance"`
		Cost           int64 `json:"cost"`
		Fee            int64 `json:"fee"`
		Price          int64 `json:"price"`
		Amount         int64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(103), resp.Cost)
	assert.Equal(t, int64(3), resp.Fee)
	assert.Equal(t, int64(897), resp.NewCoinBalance)
	require.NotNil(t, store.purchased)
	assert.Equal(t, int64(5), store.purchased.Quantity)
}

func TestBuyEndpoint_ValidationErrorIs422(t *testing.T) {
	server := newTestServer(&stubOracle{price: 20}, &stubStore{})
	router := server.Router(testToken)

	rec := doRequest(t, router, "/v1/market/buy", map[string]any{
		"user_id":      "user-1",
		"coin_balance": 10, // affords nothing
		"amount":       5,
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error struct {
			Code string `json:"code"`
			Max  *int64 `json:"max"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_funds", resp.Error.Code)
}

func TestSellEndpoint(t *testing.T) {
	batch := &domain.StockBatch{
		ID: uuid.New(), UserID: "user-1", Quantity: 5, UnitPrice: 20,
		ExpiresAt: time.Now().AddDate(0, 0, 3),
	}
	store := &stubStore{batches: []*domain.StockBatch{batch}}
	server := newTestServer(&stubOracle{price: 25}, store)
	router := server.Router(testToken)

	// amount omitted sells everything
	rec := doRequest(t, router, "/v1/market/sell", map[string]any{
		"user_id":      "user-1",
		"coin_balance": 50,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Gain   int64 `json:"gain"`
		Fee    int64 `json:"fee"`
		Amount int64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(121), resp.Gain)
	assert.Equal(t, int64(4), resp.Fee)
	assert.Equal(t, int64(5), resp.Amount)
	assert.Equal(t, []uuid.UUID{batch.ID}, store.saleIDs)
}

func TestSellEndpoint_InsufficientStock(t *testing.T) {
	server := newTestServer(&stubOracle{price: 25}, &stubStore{})
	router := server.Router(testToken)

	rec := doRequest(t, router, "/v1/market/sell", map[string]any{
		"user_id":      "user-1",
		"coin_balance": 0,
		"amount":       3,
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_stock")
}

func TestQueryEndpoint(t *testing.T) {
	base := time.Now()
	var batches []*domain.StockBatch
	for i := 0; i < 12; i++ {
		batches = append(batches, &domain.StockBatch{
			ID: uuid.New(), UserID: "user-1", Quantity: 2, UnitPrice: 15,
			ExpiresAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	server := newTestServer(&stubOracle{price: 33, bought: 4}, &stubStore{batches: batches})
	router := server.Router(testToken)

	rec := doRequest(t, router, "/v1/market/query", map[string]any{
		"user_id":      "user-1",
		"coin_balance": 250,
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Batches        []json.RawMessage `json:"batches"`
		TotalQuantity  int64             `json:"total_quantity"`
		HiddenCount    int64             `json:"hidden_count"`
		Price          int64             `json:"price"`
		DailyRemaining *int64            `json:"daily_remaining"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Batches, 10)
	assert.Equal(t, int64(24), resp.TotalQuantity)
	assert.Equal(t, int64(2), resp.HiddenCount)
	assert.Equal(t, int64(33), resp.Price)
	require.NotNil(t, resp.DailyRemaining)
	assert.Equal(t, int64(6), *resp.DailyRemaining)
}

func TestAuth(t *testing.T) {
	server := newTestServer(&stubOracle{price: 20}, &stubStore{})
	router := server.Router(testToken)

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/market/query", bytes.NewReader([]byte("{}")))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/market/query", bytes.NewReader([]byte("{}")))
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("healthz is open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestBadRequests(t *testing.T) {
	server := newTestServer(&stubOracle{price: 20}, &stubStore{})
	router := server.Router(testToken)

	t.Run("missing user_id", func(t *testing.T) {
		rec := doRequest(t, router, "/v1/market/query", map[string]any{"coin_balance": 10})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative balance", func(t *testing.T) {
		rec := doRequest(t, router, "/v1/market/buy", map[string]any{
			"user_id": "u", "coin_balance": -5,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/market/sell", bytes.NewReader([]byte("not json")))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
