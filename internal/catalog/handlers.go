package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/money"
)

// Handler exposes product management and checkout catalog endpoints.
type Handler struct {
	service        *Service
	validate       *validator.Validate
	defaultPerPage int
	maxPerPage     int
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service        *Service
	Validate       *validator.Validate
	DefaultPerPage int
	MaxPerPage     int
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New()
	}
	defaultPerPage := cfg.DefaultPerPage
	if defaultPerPage < 1 {
		defaultPerPage = 15
	}
	maxPerPage := cfg.MaxPerPage
	if maxPerPage < defaultPerPage {
		maxPerPage = defaultPerPage
	}
	return &Handler{
		service:        cfg.Service,
		validate:       validate,
		defaultPerPage: defaultPerPage,
		maxPerPage:     maxPerPage,
	}
}

type productRequest struct {
	SKU       string `json:"sku" validate:"required,max=50"`
	Name      string `json:"name" validate:"required,max=255"`
	UnitPrice string `json:"unit_price" validate:"required"`
	IsActive  *bool  `json:"is_active"`
}

// List handles GET /api/v1/products.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, h.defaultPerPage, h.maxPerPage)
	result, err := h.service.ListProducts(r.Context(), page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(result.Total)},
	})
}

// Get handles GET /api/v1/products/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": product})
}

// Create handles POST /api/v1/products.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeProduct(w, r, true)
	if !ok {
		return
	}
	product, err := h.service.CreateProduct(r.Context(), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": product})
}

// Update handles PUT /api/v1/products/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeProduct(w, r, false)
	if !ok {
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": product})
}

// Delete handles DELETE /api/v1/products/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckoutProducts handles GET /api/v1/checkout/products.
func (h *Handler) CheckoutProducts(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.CheckoutProducts(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) decodeProduct(w http.ResponseWriter, r *http.Request, defaultActive bool) (ProductParams, bool) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body", nil)
		return ProductParams{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid product payload", validationDetails(err))
		return ProductParams{}, false
	}
	unitPrice, err := money.Parse(req.UnitPrice)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "unit_price must be a non-negative amount with at most two decimal places", nil)
		return ProductParams{}, false
	}
	isActive := defaultActive
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	return ProductParams{
		SKU:       req.SKU,
		Name:      req.Name,
		UnitPrice: unitPrice,
		IsActive:  isActive,
	}, true
}

func validationDetails(err error) any {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
	}
	return map[string]any{"fields": fields}
}
