package promo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/events"
	"github.com/noah-isme/backend-pos/internal/lock"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/obs"
)

// Store is the persistence surface the promotion workflow needs. WithTx
// scopes the same operations to a transaction.
type Store interface {
	ListPromotions(ctx context.Context, limit, offset int32) ([]db.PromotionWithProduct, error)
	CountPromotions(ctx context.Context) (int64, error)
	GetPromotionByID(ctx context.Context, id pgtype.UUID) (db.Promotion, error)
	GetProductByID(ctx context.Context, id pgtype.UUID) (db.Product, error)
	DeactivatePromotionsForProduct(ctx context.Context, productID pgtype.UUID) (int64, error)
	InsertPromotion(ctx context.Context, arg db.InsertPromotionParams) (db.Promotion, error)
	UpdatePromotion(ctx context.Context, arg db.UpdatePromotionParams) (db.Promotion, error)
	DeletePromotion(ctx context.Context, id pgtype.UUID) (int64, error)
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

// Service manages promotion lifecycle. Activation deactivates every other
// promotion of the product inside the same transaction, so at most one stays
// active; the partial unique index backs this up under concurrency.
type Service struct {
	store   Store
	pool    db.Beginner
	locker  *lock.Locker
	cache   *catalog.Cache
	bus     *events.Bus
	metrics *obs.DomainMetrics
	lockTTL time.Duration
}

// ServiceConfig groups Service dependencies. Locker, Cache, Bus and Metrics
// are optional.
type ServiceConfig struct {
	Store   Store
	Pool    db.Beginner
	Locker  *lock.Locker
	Cache   *catalog.Cache
	Bus     *events.Bus
	Metrics *obs.DomainMetrics
	LockTTL time.Duration
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("promo: store is required")
	}
	if cfg.Pool == nil {
		return nil, errors.New("promo: pool is required")
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &Service{
		store:   cfg.Store,
		pool:    cfg.Pool,
		locker:  cfg.Locker,
		cache:   cfg.Cache,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		lockTTL: lockTTL,
	}, nil
}

// Promotion is the API payload for a promotion.
type Promotion struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	ProductSKU   string          `json:"product_sku,omitempty"`
	ProductName  string          `json:"product_name,omitempty"`
	Quantity     int             `json:"quantity"`
	SpecialPrice decimal.Decimal `json:"special_price"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListResult contains list data and the total row count.
type ListResult struct {
	Items []Promotion
	Total int64
}

// CreateParams carries validated attributes for a new promotion.
type CreateParams struct {
	ProductID    string
	Quantity     int
	SpecialPrice decimal.Decimal
	IsActive     bool
}

// UpdateParams carries validated attributes for a promotion update.
type UpdateParams struct {
	Quantity     int
	SpecialPrice decimal.Decimal
	IsActive     bool
}

// List returns a page of promotions, newest first.
func (s *Service) List(ctx context.Context, page, perPage int) (ListResult, error) {
	total, err := s.store.CountPromotions(ctx)
	if err != nil {
		return ListResult{}, fmt.Errorf("count promotions: %w", err)
	}
	offset := int32((page - 1) * perPage)
	if offset < 0 {
		offset = 0
	}
	rows, err := s.store.ListPromotions(ctx, int32(perPage), offset)
	if err != nil {
		return ListResult{}, fmt.Errorf("list promotions: %w", err)
	}
	items := make([]Promotion, 0, len(rows))
	for _, row := range rows {
		p := toPromotion(row.Promotion)
		p.ProductSKU = row.ProductSKU
		p.ProductName = row.ProductName
		items = append(items, p)
	}
	return ListResult{Items: items, Total: total}, nil
}

// Get fetches one promotion by id.
func (s *Service) Get(ctx context.Context, id string) (Promotion, error) {
	pgID, err := common.ToPgUUID(id)
	if err != nil {
		return Promotion{}, notFound("promotion not found", err)
	}
	row, err := s.store.GetPromotionByID(ctx, pgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promotion{}, notFound("promotion not found", err)
		}
		return Promotion{}, fmt.Errorf("get promotion: %w", err)
	}
	return toPromotion(row), nil
}

// Create stores a new promotion. An active one displaces the product's
// current active promotion.
func (s *Service) Create(ctx context.Context, params CreateParams) (Promotion, error) {
	productID, err := common.ToPgUUID(params.ProductID)
	if err != nil {
		return Promotion{}, validation("product_id must be a valid product id", err)
	}
	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promotion{}, validation("product_id must reference an existing product", err)
		}
		return Promotion{}, fmt.Errorf("get product: %w", err)
	}
	if err := checkCheaper(params.Quantity, params.SpecialPrice, product.UnitPrice); err != nil {
		return Promotion{}, err
	}

	insert := db.InsertPromotionParams{
		ProductID:    productID,
		Quantity:     int32(params.Quantity),
		SpecialPrice: params.SpecialPrice,
		IsActive:     params.IsActive,
	}

	var created db.Promotion
	if params.IsActive {
		err = s.withProductLock(ctx, params.ProductID, func(ctx context.Context) error {
			return s.inTx(ctx, func(txStore Store) error {
				if _, err := txStore.DeactivatePromotionsForProduct(ctx, productID); err != nil {
					return fmt.Errorf("deactivate promotions: %w", err)
				}
				created, err = txStore.InsertPromotion(ctx, insert)
				return err
			})
		})
	} else {
		created, err = s.store.InsertPromotion(ctx, insert)
	}
	if err != nil {
		if isUniqueViolation(err) {
			s.countActivation("conflict")
			return Promotion{}, activeConflict(err)
		}
		if params.IsActive {
			s.countActivation("failed")
		}
		return Promotion{}, fmt.Errorf("insert promotion: %w", err)
	}
	if params.IsActive {
		s.countActivation("activated")
		s.afterActivation(ctx, created)
	} else if s.cache != nil {
		_ = s.cache.Invalidate(ctx, catalog.CheckoutProductsKey)
	}
	return toPromotion(created), nil
}

// Update overwrites a promotion. Setting it active routes through the same
// deactivate-then-write path as Create.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (Promotion, error) {
	pgID, err := common.ToPgUUID(id)
	if err != nil {
		return Promotion{}, notFound("promotion not found", err)
	}
	existing, err := s.store.GetPromotionByID(ctx, pgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promotion{}, notFound("promotion not found", err)
		}
		return Promotion{}, fmt.Errorf("get promotion: %w", err)
	}
	product, err := s.store.GetProductByID(ctx, existing.ProductID)
	if err != nil {
		return Promotion{}, fmt.Errorf("get product: %w", err)
	}
	if err := checkCheaper(params.Quantity, params.SpecialPrice, product.UnitPrice); err != nil {
		return Promotion{}, err
	}

	update := db.UpdatePromotionParams{
		ID:           pgID,
		Quantity:     int32(params.Quantity),
		SpecialPrice: params.SpecialPrice,
		IsActive:     params.IsActive,
	}

	var updated db.Promotion
	if params.IsActive {
		err = s.withProductLock(ctx, common.PgUUIDString(existing.ProductID), func(ctx context.Context) error {
			return s.inTx(ctx, func(txStore Store) error {
				if _, err := txStore.DeactivatePromotionsForProduct(ctx, existing.ProductID); err != nil {
					return fmt.Errorf("deactivate promotions: %w", err)
				}
				updated, err = txStore.UpdatePromotion(ctx, update)
				return err
			})
		})
	} else {
		updated, err = s.store.UpdatePromotion(ctx, update)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promotion{}, notFound("promotion not found", err)
		}
		if isUniqueViolation(err) {
			s.countActivation("conflict")
			return Promotion{}, activeConflict(err)
		}
		if params.IsActive {
			s.countActivation("failed")
		}
		return Promotion{}, fmt.Errorf("update promotion: %w", err)
	}
	if params.IsActive && !existing.IsActive {
		s.countActivation("activated")
		s.afterActivation(ctx, updated)
	} else if s.cache != nil {
		_ = s.cache.Invalidate(ctx, catalog.CheckoutProductsKey)
	}
	return toPromotion(updated), nil
}

// Delete removes a promotion.
func (s *Service) Delete(ctx context.Context, id string) error {
	pgID, err := common.ToPgUUID(id)
	if err != nil {
		return notFound("promotion not found", err)
	}
	affected, err := s.store.DeletePromotion(ctx, pgID)
	if err != nil {
		return fmt.Errorf("delete promotion: %w", err)
	}
	if affected == 0 {
		return notFound("promotion not found", nil)
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, catalog.CheckoutProductsKey)
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(s.store.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) withProductLock(ctx context.Context, productID string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, lock.PromotionKey(productID), s.lockTTL, fn)
}

func (s *Service) afterActivation(ctx context.Context, promotion db.Promotion) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, catalog.CheckoutProductsKey)
	}
	if s.bus != nil {
		_, _ = s.bus.Emit(ctx, events.TopicPromotionActivated, promotion.ID, map[string]any{
			"promotionId":  common.PgUUIDString(promotion.ID),
			"productId":    common.PgUUIDString(promotion.ProductID),
			"quantity":     promotion.Quantity,
			"specialPrice": money.Format(promotion.SpecialPrice),
		})
	}
}

func (s *Service) countActivation(result string) {
	if s.metrics != nil {
		s.metrics.PromotionActivationTotal.WithLabelValues(result).Inc()
	}
}

// checkCheaper rejects a bundle that is not strictly cheaper than buying the
// same quantity at the regular price.
func checkCheaper(quantity int, specialPrice, unitPrice decimal.Decimal) error {
	regular := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	if specialPrice.GreaterThanOrEqual(regular) {
		return validation(
			fmt.Sprintf("The special price must be less than the regular price (%s).", money.Format(regular)),
			nil,
		)
	}
	return nil
}

func toPromotion(row db.Promotion) Promotion {
	return Promotion{
		ID:           common.PgUUIDString(row.ID),
		ProductID:    common.PgUUIDString(row.ProductID),
		Quantity:     int(row.Quantity),
		SpecialPrice: row.SpecialPrice,
		IsActive:     row.IsActive,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func activeConflict(err error) *common.AppError {
	return &common.AppError{
		Code:       "CONFLICT",
		Message:    "another promotion was activated for this product concurrently",
		HTTPStatus: http.StatusConflict,
		Err:        err,
	}
}

func notFound(message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "NOT_FOUND",
		Message:    message,
		HTTPStatus: http.StatusNotFound,
		Err:        err,
	}
}

func validation(message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "VALIDATION",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}
