package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/stock"
)

type InventoryService interface {
	Get(ctx context.Context, id int64) (stock.Entry, error)
	Adjust(ctx context.Context, id int64, quantity int32) (stock.Entry, error)
}

type InventoryHandler struct {
	svc    InventoryService
	logger *zap.Logger
}

func NewInventoryHandler(svc InventoryService, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{svc: svc, logger: logger}
}

func (h *InventoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entry, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, stock.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "inventory entry not found")
			return
		}
		h.logger.Error("get inventory failed", zap.Int64("product_id", id), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type adjustRequest struct {
	Quantity *int32 `json:"quantity"`
}

// Put sets the warehouse quantity for id and announces it on store_status.
func (h *InventoryHandler) Put(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed inventory body")
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 {
		writeProblem(w, http.StatusBadRequest, "quantity is required and must not be negative")
		return
	}

	entry, err := h.svc.Adjust(r.Context(), id, *req.Quantity)
	if err != nil {
		if errors.Is(err, stock.ErrNegativeQuantity) {
			writeProblem(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("adjust inventory failed", zap.Int64("product_id", id), zap.Error(err))
		writeProblem(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
