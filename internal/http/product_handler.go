package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/product-sync/internal/catalog"
)

type ProductService interface {
	Create(ctx context.Context, d catalog.Draft) (catalog.Product, error)
	Get(ctx context.Context, id int64) (catalog.Product, error)
	List(ctx context.Context) ([]catalog.Product, error)
	Update(ctx context.Context, id int64, d catalog.Draft) (catalog.Product, error)
	Delete(ctx context.Context, id int64) error
}

type ProductHandler struct {
	svc    ProductService
	logger *zap.Logger
}

func NewProductHandler(svc ProductService, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{svc: svc, logger: logger}
}

type productRequest struct {
	Name           string `json:"name"`
	ProductTypeDTO string `json:"productTypeDTO"`
	ExpirationDate string `json:"expirationDate"`
	Quantity       *int64 `json:"quantity"`
}

func (req productRequest) draft() catalog.Draft {
	return catalog.Draft{
		Name:           req.Name,
		ProductType:    req.ProductTypeDTO,
		ExpirationDate: req.ExpirationDate,
		Quantity:       req.Quantity,
	}
}

type productResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	ProductTypeDTO string `json:"productTypeDTO"`
	ExpirationDate string `json:"expirationDate"`
	Quantity       int32  `json:"quantity"`
}

func toResponse(p catalog.Product) productResponse {
	return productResponse{
		ID:             p.ID,
		Name:           p.Name,
		ProductTypeDTO: string(p.Type),
		ExpirationDate: p.ExpirationDate.Format(catalog.DateLayout),
		Quantity:       p.Quantity,
	}
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed product body")
		return
	}

	p, err := h.svc.Create(r.Context(), req.draft())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/%d", p.ID))
	writeJSON(w, http.StatusCreated, toResponse(p))
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(p))
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed product body")
		return
	}

	p, err := h.svc.Update(r.Context(), id, req.draft())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(p))
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *catalog.ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, http.StatusBadRequest, "product failed validation", verr.Reasons...)
	case errors.Is(err, catalog.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "product not found")
	default:
		h.logger.Error("product request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeProblem(w, http.StatusInternalServerError, "internal error")
	}
}
