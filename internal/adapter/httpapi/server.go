package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kabumarket/kabu-market-backend/internal/domain"
	"github.com/kabumarket/kabu-market-backend/internal/usecase/market"
)

// Server exposes the ledger engine to the chat bot's command layer.
// The bot owns user identity, coin balances and all user-facing wording;
// this API only moves structured values.
type Server struct {
	Market *market.Service

	log zerolog.Logger
}

// NewServer creates a new HTTP API server instance
func NewServer(marketService *market.Service, log zerolog.Logger) *Server {
	return &Server{Market: marketService, log: log}
}

// Router builds the chi router with auth and request logging applied to the
// market routes.
func (s *Server) Router(apiToken string) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/v1/market", func(r chi.Router) {
		r.Use(RequestLogger(s.log))
		r.Use(AuthMiddleware(apiToken))
		r.Post("/query", s.handleQuery)
		r.Post("/buy", s.handleBuy)
		r.Post("/sell", s.handleSell)
	})

	return r
}

type marketRequest struct {
	UserID      string `json:"user_id"`
	CoinBalance int64  `json:"coin_balance"`
	Amount      *int64 `json:"amount,omitempty"`
}

type batchResponse struct {
	ID        string    `json:"id"`
	Quantity  int64     `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	ExpiresAt time.Time `json:"expires_at"`
}

type queryResponse struct {
	Batches        []batchResponse `json:"batches"`
	TotalQuantity  int64           `json:"total_quantity"`
	HiddenCount    int64           `json:"hidden_count"`
	Price          int64           `json:"price"`
	PurchasedToday int64           `json:"purchased_today"`
	DailyRemaining *int64          `json:"daily_remaining,omitempty"` // absent when no daily cap
	CoinBalance    int64           `json:"coin_balance"`
}

type buyResponse struct {
	NewCoinBalance int64     `json:"new_coin_balance"`
	Cost           int64     `json:"cost"`
	Fee            int64     `json:"fee"`
	Price          int64     `json:"price"`
	Amount         int64     `json:"amount"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type sellResponse struct {
	NewCoinBalance int64 `json:"new_coin_balance"`
	Gain           int64 `json:"gain"`
	Fee            int64 `json:"fee"`
	Price          int64 `json:"price"`
	Amount         int64 `json:"amount"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Max     *int64 `json:"max,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.Market.Query(r.Context(), req.UserID, req.CoinBalance)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	batches := make([]batchResponse, 0, len(result.Batches))
	for _, b := range result.Batches {
		batches = append(batches, batchResponse{
			ID:        b.ID.String(),
			Quantity:  b.Quantity,
			UnitPrice: b.UnitPrice,
			ExpiresAt: b.ExpiresAt,
		})
	}

	resp := queryResponse{
		Batches:        batches,
		TotalQuantity:  result.TotalQuantity,
		HiddenCount:    result.HiddenCount,
		Price:          result.Price,
		PurchasedToday: result.PurchasedToday,
		CoinBalance:    result.CoinBalance,
	}
	if result.DailyRemaining >= 0 {
		remaining := result.DailyRemaining
		resp.DailyRemaining = &remaining
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.Market.Buy(r.Context(), req.UserID, req.CoinBalance, req.Amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, buyResponse{
		NewCoinBalance: result.NewCoinBalance,
		Cost:           result.Cost,
		Fee:            result.Fee,
		Price:          result.Price,
		Amount:         result.Amount,
		ExpiresAt:      result.ExpiresAt,
	})
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.Market.Sell(r.Context(), req.UserID, req.CoinBalance, req.Amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sellResponse{
		NewCoinBalance: result.NewCoinBalance,
		Gain:           result.Gain,
		Fee:            result.Fee,
		Price:          result.Price,
		Amount:         result.Amount,
	})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*marketRequest, bool) {
	var req marketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return nil, false
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return nil, false
	}
	if req.CoinBalance < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "coin_balance cannot be negative")
		return nil, false
	}
	return &req, true
}

// writeEngineError maps engine errors: business-rule rejections become 422
// with a machine-readable code, everything else is a 500.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if ve, ok := domain.AsValidationError(err); ok {
		body := errorBody{Code: string(ve.Code), Message: ve.Message}
		if ve.Max > 0 || ve.Code == domain.ErrCodeInsufficientStock {
			max := ve.Max
			body.Max = &max
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: body})
		return
	}

	if errors.Is(err, domain.ErrInvariantViolation) {
		s.log.Error().Err(err).Msg("ledger invariant violation")
	} else {
		s.log.Error().Err(err).Msg("engine operation failed")
	}
	writeError(w, http.StatusInternalServerError, "internal_error", "operation failed")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}
