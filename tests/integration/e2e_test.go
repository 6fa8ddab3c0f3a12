//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabumarket/kabu-market-backend/internal/adapter/repository/postgres"
)

// These tests run against a live server and database:
//
//	KABU_TEST_API_ADDR    - base URL of a running server (default http://localhost:8080)
//	KABU_TEST_API_TOKEN   - API token (default dev-token)
//	KABU_TEST_POSTGRES    - Postgres DSN for direct verification and cleanup
var (
	db       *postgres.DB
	apiBase  string
	apiToken string
)

func TestMain(m *testing.M) {
	apiBase = envOr("KABU_TEST_API_ADDR", "http://localhost:8080")
	apiToken = envOr("KABU_TEST_API_TOKEN", "dev-token")

	dsn := envOr("KABU_TEST_POSTGRES",
		"host=localhost port=5432 user=postgres password=postgres dbname=kabu sslmode=disable")

	var err error
	db, err = postgres.NewDB(dsn)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	os.Exit(m.Run())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newTestUser returns a unique user ID and removes its rows when the test ends.
func newTestUser(t *testing.T) string {
	t.Helper()
	userID := "it-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		db.ExecContext(ctx, `DELETE FROM stock_batch WHERE user_id = $1`, userID)
		db.ExecContext(ctx, `DELETE FROM daily_price WHERE user_id = $1`, userID)
	})
	return userID
}

func call(t *testing.T, path string, body map[string]any) (int, map[string]json.RawMessage) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, apiBase+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiToken)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func rawInt(t *testing.T, raw json.RawMessage) int64 {
	t.Helper()
	var n int64
	require.NoError(t, json.Unmarshal(raw, &n))
	return n
}

func TestE2E_BuyQuerySellRoundTrip(t *testing.T) {
	userID := newTestUser(t)
	balance := int64(10_000)

	// First query generates today's price
	status, query1 := call(t, "/v1/market/query", map[string]any{
		"user_id": userID, "coin_balance": balance,
	})
	require.Equal(t, http.StatusOK, status)
	price := rawInt(t, query1["price"])
	assert.GreaterOrEqual(t, price, int64(10))
	assert.LessOrEqual(t, price, int64(50))
	assert.Equal(t, int64(0), rawInt(t, query1["total_quantity"]))

	// The price is idempotent within the day
	status, query2 := call(t, "/v1/market/query", map[string]any{
		"user_id": userID, "coin_balance": balance,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, price, rawInt(t, query2["price"]))

	// Buy 3 units
	status, buy := call(t, "/v1/market/buy", map[string]any{
		"user_id": userID, "coin_balance": balance, "amount": 3,
	})
	require.Equal(t, http.StatusOK, status)
	cost := rawInt(t, buy["cost"])
	assert.Equal(t, price, rawInt(t, buy["price"]))
	assert.Equal(t, balance-cost, rawInt(t, buy["new_coin_balance"]))
	balance -= cost

	// The batch is visible and counted
	status, query3 := call(t, "/v1/market/query", map[string]any{
		"user_id": userID, "coin_balance": balance,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(3), rawInt(t, query3["total_quantity"]))
	assert.Equal(t, int64(3), rawInt(t, query3["purchased_today"]))

	// Sell everything at today's price
	status, sell := call(t, "/v1/market/sell", map[string]any{
		"user_id": userID, "coin_balance": balance,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(3), rawInt(t, sell["amount"]))
	gain := rawInt(t, sell["gain"])
	assert.Equal(t, balance+gain, rawInt(t, sell["new_coin_balance"]))

	// Holdings are empty again, in the API and in the database
	status, query4 := call(t, "/v1/market/query", map[string]any{
		"user_id": userID, "coin_balance": balance + gain,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(0), rawInt(t, query4["total_quantity"]))

	var rows int64
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM stock_batch WHERE user_id = $1`, userID).Scan(&rows))
	assert.Equal(t, int64(0), rows)
}

func TestE2E_SellingMoreThanHeldIsRejected(t *testing.T) {
	userID := newTestUser(t)

	status, buy := call(t, "/v1/market/buy", map[string]any{
		"user_id": userID, "coin_balance": 10_000, "amount": 2,
	})
	require.Equal(t, http.StatusOK, status)
	_ = buy

	status, sell := call(t, "/v1/market/sell", map[string]any{
		"user_id": userID, "coin_balance": 0, "amount": 100,
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)

	var errBody struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(sell["error"], &errBody))
	assert.Equal(t, "insufficient_stock", errBody.Code)

	// Nothing was consumed by the rejected sell
	var held int64
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_batch WHERE user_id = $1`, userID).Scan(&held))
	assert.Equal(t, int64(2), held)
}

func TestE2E_DailyPriceRowIsUnique(t *testing.T) {
	userID := newTestUser(t)

	for i := 0; i < 5; i++ {
		status, _ := call(t, "/v1/market/query", map[string]any{
			"user_id": userID, "coin_balance": 100,
		})
		require.Equal(t, http.StatusOK, status)
	}

	var rows int64
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM daily_price WHERE user_id = $1`, userID).Scan(&rows))
	assert.Equal(t, int64(1), rows)
}
