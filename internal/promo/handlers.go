package promo

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

// Handler exposes promotion management endpoints.
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

type createRequest struct {
	ProductID    string `json:"product_id" validate:"required,uuid"`
	Quantity     int    `json:"quantity" validate:"required,min=2"`
	SpecialPrice string `json:"special_price" validate:"required"`
	IsActive     bool   `json:"is_active"`
}

type updateRequest struct {
	Quantity     int    `json:"quantity" validate:"required,min=2"`
	SpecialPrice string `json:"special_price" validate:"required"`
	IsActive     bool   `json:"is_active"`
}

// List handles GET /api/v1/promotions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, h.defaultPerPage, h.maxPerPage)
	result, err := h.service.List(r.Context(), page, perPage)
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

// Get handles GET /api/v1/promotions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	promotion, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": promotion})
}

// Create handles POST /api/v1/promotions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid promotion payload", validationDetails(err))
		return
	}
	specialPrice, err := money.Parse(req.SpecialPrice)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "special_price must be a non-negative amount with at most two decimal places", nil)
		return
	}
	promotion, err := h.service.Create(r.Context(), CreateParams{
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		SpecialPrice: specialPrice,
		IsActive:     req.IsActive,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": promotion})
}

// Update handles PUT /api/v1/promotions/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid promotion payload", validationDetails(err))
		return
	}
	specialPrice, err := money.Parse(req.SpecialPrice)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "special_price must be a non-negative amount with at most two decimal places", nil)
		return
	}
	promotion, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), UpdateParams{
		Quantity:     req.Quantity,
		SpecialPrice: specialPrice,
		IsActive:     req.IsActive,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": promotion})
}

// Delete handles DELETE /api/v1/promotions/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
