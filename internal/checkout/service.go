package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/obs"
	"github.com/noah-isme/backend-pos/internal/pricing"
)

// Store is the persistence surface checkout needs. WithTx scopes the same
// operations to a transaction.
type Store interface {
	FindActiveProductsBySKUs(ctx context.Context, skus []string) ([]db.CatalogProductRow, error)
	InsertSale(ctx context.Context, arg db.InsertSaleParams) (db.Sale, error)
	InsertSaleItem(ctx context.Context, arg db.InsertSaleItemParams) error
	WithTx(tx pgx.Tx) Store
}

// QueriesStore adapts db.Queries to the Store interface.
type QueriesStore struct {
	*db.Queries
}

// NewStore wraps the query layer.
func NewStore(q *db.Queries) QueriesStore {
	return QueriesStore{Queries: q}
}

// WithTx returns a transaction-scoped store.
func (s QueriesStore) WithTx(tx pgx.Tx) Store {
	return QueriesStore{Queries: s.Queries.WithTx(tx)}
}

// Limits bound what a single checkout request may contain.
type Limits struct {
	MaxLines     int
	MaxQuantity  int
	MaxSKULength int
}

func (l Limits) withDefaults() Limits {
	if l.MaxLines < 1 {
		l.MaxLines = 100
	}
	if l.MaxQuantity < 1 {
		l.MaxQuantity = 1000
	}
	if l.MaxSKULength < 1 {
		l.MaxSKULength = 50
	}
	return l
}

// Service runs the two checkout operations: a pure pricing preview and the
// persisted sale.
type Service struct {
	Store   Store
	Pool    db.Beginner
	Bus     *events.Bus
	Metrics *obs.DomainMetrics
	Limits  Limits
}

// Output is the persisted-sale payload returned to the client.
type Output struct {
	ID           string          `json:"id"`
	Breakdown    []pricing.Line  `json:"breakdown"`
	Total        decimal.Decimal `json:"total"`
	RegularTotal decimal.Decimal `json:"regular_total"`
	TotalSavings decimal.Decimal `json:"total_savings"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Calculate validates and prices the cart without touching sale state.
func (s *Service) Calculate(ctx context.Context, items []pricing.CartItem) (pricing.Result, error) {
	if s == nil || s.Store == nil {
		return pricing.Result{}, errors.New("checkout service not configured")
	}
	if err := s.validateItems(items); err != nil {
		return pricing.Result{}, err
	}

	skus, _ := pricing.Normalize(items)
	rows, err := s.Store.FindActiveProductsBySKUs(ctx, skus)
	if err != nil {
		return pricing.Result{}, fmt.Errorf("resolve products: %w", err)
	}
	products := toPricingProducts(rows)

	result, err := pricing.Calculate(items, products)
	if err != nil {
		var invalid *pricing.InvalidSKUError
		if errors.As(err, &invalid) {
			s.count("invalid_sku")
			return pricing.Result{}, &common.AppError{
				Code:       "INVALID_SKU",
				Message:    invalid.Error(),
				HTTPStatus: http.StatusUnprocessableEntity,
				Err:        err,
				Details:    map[string]any{"skus": invalid.SKUs},
			}
		}
		return pricing.Result{}, err
	}
	return result, nil
}

// Process prices the cart and persists the sale with its items in a single
// transaction. The submitted cart is stored verbatim alongside the total.
func (s *Service) Process(ctx context.Context, userID string, items []pricing.CartItem) (Output, error) {
	if s == nil || s.Store == nil || s.Pool == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return Output{}, &common.AppError{
			Code:       "UNAUTHORIZED",
			Message:    "authentication required",
			HTTPStatus: http.StatusUnauthorized,
		}
	}
	result, err := s.Calculate(ctx, items)
	if err != nil {
		return Output{}, err
	}

	itemsInput, err := json.Marshal(result.ItemsInput)
	if err != nil {
		return Output{}, fmt.Errorf("encode items input: %w", err)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		s.count("failed")
		return Output{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	txStore := s.Store.WithTx(tx)

	sale, err := txStore.InsertSale(ctx, db.InsertSaleParams{
		UserID:      userID,
		TotalAmount: result.Total,
		ItemsInput:  itemsInput,
	})
	if err != nil {
		s.count("failed")
		return Output{}, fmt.Errorf("insert sale: %w", err)
	}
	for _, line := range result.Breakdown {
		if err := txStore.InsertSaleItem(ctx, db.InsertSaleItemParams{
			SaleID:      sale.ID,
			SKU:         line.SKU,
			ProductName: line.ProductName,
			Quantity:    int32(line.Quantity),
			LineTotal:   line.LineTotal,
		}); err != nil {
			s.count("failed")
			return Output{}, fmt.Errorf("insert sale item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		s.count("failed")
		return Output{}, err
	}

	s.count("completed")
	if s.Metrics != nil {
		amount, _ := result.Total.Float64()
		s.Metrics.CheckoutAmount.Observe(amount)
	}
	if s.Bus != nil {
		_, _ = s.Bus.Emit(ctx, events.TopicSaleCreated, sale.ID, map[string]any{
			"saleId": common.PgUUIDString(sale.ID),
			"userId": userID,
			"total":  money.Format(result.Total),
		})
	}

	return Output{
		ID:           common.PgUUIDString(sale.ID),
		Breakdown:    result.Breakdown,
		Total:        result.Total,
		RegularTotal: result.RegularTotal,
		TotalSavings: result.TotalSavings,
		CreatedAt:    sale.CreatedAt.Time,
	}, nil
}

func (s *Service) validateItems(items []pricing.CartItem) error {
	limits := s.Limits.withDefaults()
	if len(items) == 0 {
		return validation("items must contain at least one line", nil)
	}
	if len(items) > limits.MaxLines {
		return validation(fmt.Sprintf("items may contain at most %d lines", limits.MaxLines), nil)
	}
	for i, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			return validation(fmt.Sprintf("items[%d].sku is required", i), nil)
		}
		if len(sku) > limits.MaxSKULength {
			return validation(fmt.Sprintf("items[%d].sku may be at most %d characters", i, limits.MaxSKULength), nil)
		}
		if item.Quantity < 1 || item.Quantity > limits.MaxQuantity {
			return validation(fmt.Sprintf("items[%d].quantity must be between 1 and %d", i, limits.MaxQuantity), nil)
		}
	}
	return nil
}

func (s *Service) count(result string) {
	if s.Metrics != nil {
		s.Metrics.CheckoutTotal.WithLabelValues(result).Inc()
	}
}

// toPricingProducts keys resolved rows by SKU for the pricing engine.
func toPricingProducts(rows []db.CatalogProductRow) map[string]pricing.Product {
	products := make(map[string]pricing.Product, len(rows))
	for _, row := range rows {
		product := pricing.Product{
			SKU:       row.SKU,
			Name:      row.Name,
			UnitPrice: row.UnitPrice,
		}
		if row.PromoQuantity.Valid && row.PromoPrice.Valid {
			product.Promotion = &pricing.Promotion{
				Quantity:     int(row.PromoQuantity.Int32),
				SpecialPrice: row.PromoPrice.Decimal,
			}
		}
		products[row.SKU] = product
	}
	return products
}

func validation(message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "VALIDATION",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}
