package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"order-concierge/internal/domain"
	"order-concierge/internal/inventory"
)

// StockLedger is the part of *inventory.Manager the stock endpoints use.
type StockLedger interface {
	Snapshot() map[string]int
	AdjustStock(ctx context.Context, store inventory.StockSetter, slug string, qty int) error
}

// StockHandler serves the current availability and staff stock edits.
//
//	GET /stock         → {"doce": 12, ...}
//	PUT /stock/{slug}  {"quantity": 30}
type StockHandler struct {
	ledger StockLedger
	store  inventory.StockSetter
	logger *zap.Logger
}

type stockUpdate struct {
	Quantity *int `json:"quantity"`
}

func NewStockHandler(ledger StockLedger, store inventory.StockSetter, logger *zap.Logger) (*StockHandler, error) {
	if ledger == nil {
		return nil, errors.New("handler: stock ledger must not be nil")
	}
	if store == nil {
		return nil, errors.New("handler: stock store must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockHandler{ledger: ledger, store: store, logger: logger}, nil
}

// Register mounts the endpoints on mux.
func (h *StockHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stock", h.list)
	mux.HandleFunc("PUT /stock/{slug}", h.update)
}

func (h *StockHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Snapshot())
}

func (h *StockHandler) update(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	var in stockUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil || in.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity is required"})
		return
	}
	err := h.ledger.AdjustStock(r.Context(), h.store, slug, *in.Quantity)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]int{slug: *in.Quantity})
	case errors.Is(err, inventory.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, inventory.ErrUnknownProduct), errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("stock update failed", zap.String("slug", slug), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
