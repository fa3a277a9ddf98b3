package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/pricing"
)

type queryProvider interface {
	ListProducts(ctx context.Context, limit, offset int32) ([]db.Product, error)
	CountProducts(ctx context.Context) (int64, error)
	GetProductByID(ctx context.Context, id pgtype.UUID) (db.Product, error)
	InsertProduct(ctx context.Context, arg db.InsertProductParams) (db.Product, error)
	UpdateProduct(ctx context.Context, arg db.UpdateProductParams) (db.Product, error)
	DeleteProduct(ctx context.Context, id pgtype.UUID) (int64, error)
	ListCheckoutProducts(ctx context.Context) ([]db.CatalogProductRow, error)
}

// Service orchestrates product management and the cached checkout catalog.
type Service struct {
	queries queryProvider
	cache   *Cache
	bus     *events.Bus
	metrics *obs.DomainMetrics
}

// ServiceConfig groups Service dependencies. Cache, Bus and Metrics are
// optional.
type ServiceConfig struct {
	Queries queryProvider
	Cache   *Cache
	Bus     *events.Bus
	Metrics *obs.DomainMetrics
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries provider is required")
	}
	return &Service{
		queries: cfg.Queries,
		cache:   cfg.Cache,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
	}, nil
}

// Product is the management-side product payload.
type Product struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CheckoutProduct is one entry of the cached checkout catalog: an active
// product plus its active promotion, if any.
type CheckoutProduct struct {
	ID        string             `json:"id"`
	SKU       string             `json:"sku"`
	Name      string             `json:"name"`
	UnitPrice decimal.Decimal    `json:"unit_price"`
	Promotion *pricing.Promotion `json:"promotion"`
}

// ProductListResult contains list data and pagination metadata.
type ProductListResult struct {
	Items []Product
	Total int64
}

// ProductParams carries validated attributes for create and update.
type ProductParams struct {
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	IsActive  bool
}

// ListProducts returns a page of products ordered by SKU.
func (s *Service) ListProducts(ctx context.Context, page, perPage int) (ProductListResult, error) {
	total, err := s.queries.CountProducts(ctx)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("count products: %w", err)
	}
	offset := int32((page - 1) * perPage)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.queries.ListProducts(ctx, int32(perPage), offset)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("list products: %w", err)
	}
	items := make([]Product, 0, len(rows))
	for _, row := range rows {
		items = append(items, toProduct(row))
	}
	return ProductListResult{Items: items, Total: total}, nil
}

// GetProduct fetches one product by id.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	pgID, err := common.ToPgUUID(id)
	if err != nil {
		return Product{}, notFound("product not found", err)
	}
	row, err := s.queries.GetProductByID(ctx, pgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, notFound("product not found", err)
		}
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return toProduct(row), nil
}

// CreateProduct stores a new product. SKUs are stored uppercase so checkout
// lookups stay case-insensitive.
func (s *Service) CreateProduct(ctx context.Context, params ProductParams) (Product, error) {
	row, err := s.queries.InsertProduct(ctx, db.InsertProductParams{
		SKU:       normalizeSKU(params.SKU),
		Name:      strings.TrimSpace(params.Name),
		UnitPrice: params.UnitPrice,
		IsActive:  params.IsActive,
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, &common.AppError{
				Code:       "CONFLICT",
				Message:    "a product with this SKU already exists",
				HTTPStatus: http.StatusConflict,
				Err:        err,
			}
		}
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	s.afterWrite(ctx, row.ID)
	return toProduct(row), nil
}

// UpdateProduct overwrites the mutable attributes of a product.
func (s *Service) UpdateProduct(ctx context.Context, id string, params ProductParams) (Product, error) {
	pgID, err := common.ToPgUUID(id)
	if err != nil {
		return Product{}, notFound("product not found", err)
	}
	row, err := s.queries.UpdateProduct(ctx, db.UpdateProductParams{
		ID:        pgID,
		SKU:       normalizeSKU(params.SKU),
		Name:      strings.TrimSpace(params.Name),
		UnitPrice: params.UnitPrice,
		IsActive:  params.IsActive,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, notFound("product not found", err)
		}
		if isUniqueViolation(err) {
			return Product{}, &common.AppError{
				Code:       "CONFLICT",
				Message:    "a product with this SKU already exists",
				HTTPStatus: http.StatusConflict,
				Err:        err,
			}
		}
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	s.afterWrite(ctx, row.ID)
	return toProduct(row), nil
}

// DeleteProduct removes a product and cascades to its promotions.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	pgID, err := common.ToPgUUID(id)
	if err != nil {
		return notFound("product not found", err)
	}
	affected, err := s.queries.DeleteProduct(ctx, pgID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if affected == 0 {
		return notFound("product not found", nil)
	}
	s.afterWrite(ctx, pgID)
	return nil
}

// CheckoutProducts returns the active catalog for the checkout screen,
// served from cache when warm.
func (s *Service) CheckoutProducts(ctx context.Context) ([]CheckoutProduct, error) {
	if s.cache != nil {
		var cached []CheckoutProduct
		ok, err := s.cache.GetJSON(ctx, CheckoutProductsKey, &cached)
		switch {
		case err != nil:
			s.countCache("error")
		case ok:
			s.countCache("hit")
			return cached, nil
		default:
			s.countCache("miss")
		}
	}
	rows, err := s.queries.ListCheckoutProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkout products: %w", err)
	}
	items := make([]CheckoutProduct, 0, len(rows))
	for _, row := range rows {
		item := CheckoutProduct{
			ID:        common.PgUUIDString(row.ID),
			SKU:       row.SKU,
			Name:      row.Name,
			UnitPrice: row.UnitPrice,
		}
		if row.PromoQuantity.Valid && row.PromoPrice.Valid {
			item.Promotion = &pricing.Promotion{
				Quantity:     int(row.PromoQuantity.Int32),
				SpecialPrice: row.PromoPrice.Decimal,
			}
		}
		items = append(items, item)
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, CheckoutProductsKey, items)
	}
	return items, nil
}

// InvalidateCheckoutCache drops the cached checkout catalog. Promotion
// writes call this since they change effective pricing.
func (s *Service) InvalidateCheckoutCache(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, CheckoutProductsKey)
	}
}

func (s *Service) afterWrite(ctx context.Context, productID pgtype.UUID) {
	s.InvalidateCheckoutCache(ctx)
	if s.bus != nil {
		_, _ = s.bus.Emit(ctx, events.TopicProductUpdated, productID, nil)
	}
}

func (s *Service) countCache(outcome string) {
	if s.metrics != nil {
		s.metrics.CatalogCacheTotal.WithLabelValues(outcome).Inc()
	}
}

func toProduct(row db.Product) Product {
	return Product{
		ID:        common.PgUUIDString(row.ID),
		SKU:       row.SKU,
		Name:      row.Name,
		UnitPrice: row.UnitPrice,
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "NOT_FOUND",
		Message:    message,
		HTTPStatus: http.StatusNotFound,
		Err:        err,
	}
}
