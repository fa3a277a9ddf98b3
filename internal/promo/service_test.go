package promo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/money"
	"github.com/noah-isme/backend-pos/internal/promo"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                        { return nil }

type fakeBeginner struct {
	tx *fakeTx
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.tx = &fakeTx{}
	return b.tx, nil
}

type fakeStore struct {
	products   map[string]db.Product
	promotions map[string]db.Promotion

	insertErr error
	calls     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:   map[string]db.Product{},
		promotions: map[string]db.Promotion{},
	}
}

func (f *fakeStore) WithTx(pgx.Tx) promo.Store { return f }

func (f *fakeStore) ListPromotions(_ context.Context, limit, offset int32) ([]db.PromotionWithProduct, error) {
	var out []db.PromotionWithProduct
	for _, p := range f.promotions {
		product := f.products[common.PgUUIDString(p.ProductID)]
		out = append(out, db.PromotionWithProduct{Promotion: p, ProductSKU: product.SKU, ProductName: product.Name})
	}
	if int(offset) >= len(out) {
		return nil, nil
	}
	end := int(offset + limit)
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (f *fakeStore) CountPromotions(context.Context) (int64, error) {
	return int64(len(f.promotions)), nil
}

func (f *fakeStore) GetPromotionByID(_ context.Context, id pgtype.UUID) (db.Promotion, error) {
	p, ok := f.promotions[common.PgUUIDString(id)]
	if !ok {
		return db.Promotion{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) GetProductByID(_ context.Context, id pgtype.UUID) (db.Product, error) {
	p, ok := f.products[common.PgUUIDString(id)]
	if !ok {
		return db.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) DeactivatePromotionsForProduct(_ context.Context, productID pgtype.UUID) (int64, error) {
	f.calls = append(f.calls, "deactivate")
	var n int64
	for id, p := range f.promotions {
		if p.ProductID == productID && p.IsActive {
			p.IsActive = false
			f.promotions[id] = p
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertPromotion(_ context.Context, arg db.InsertPromotionParams) (db.Promotion, error) {
	f.calls = append(f.calls, "insert")
	if f.insertErr != nil {
		return db.Promotion{}, f.insertErr
	}
	p := db.Promotion{
		ID:           pgtype.UUID{Bytes: uuid.New(), Valid: true},
		ProductID:    arg.ProductID,
		Quantity:     arg.Quantity,
		SpecialPrice: arg.SpecialPrice,
		IsActive:     arg.IsActive,
		CreatedAt:    pgtype.Timestamptz{Time: time.Now(), Valid: true},
		UpdatedAt:    pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	f.promotions[common.PgUUIDString(p.ID)] = p
	return p, nil
}

func (f *fakeStore) UpdatePromotion(_ context.Context, arg db.UpdatePromotionParams) (db.Promotion, error) {
	f.calls = append(f.calls, "update")
	p, ok := f.promotions[common.PgUUIDString(arg.ID)]
	if !ok {
		return db.Promotion{}, pgx.ErrNoRows
	}
	p.Quantity = arg.Quantity
	p.SpecialPrice = arg.SpecialPrice
	p.IsActive = arg.IsActive
	f.promotions[common.PgUUIDString(arg.ID)] = p
	return p, nil
}

func (f *fakeStore) DeletePromotion(_ context.Context, id pgtype.UUID) (int64, error) {
	if _, ok := f.promotions[common.PgUUIDString(id)]; !ok {
		return 0, nil
	}
	delete(f.promotions, common.PgUUIDString(id))
	return 1, nil
}

func (f *fakeStore) addProduct(sku, name, unitPrice string) db.Product {
	p := db.Product{
		ID:        pgtype.UUID{Bytes: uuid.New(), Valid: true},
		SKU:       sku,
		Name:      name,
		UnitPrice: money.MustParse(unitPrice),
		IsActive:  true,
	}
	f.products[common.PgUUIDString(p.ID)] = p
	return p
}

func newService(t *testing.T, store *fakeStore) (*promo.Service, *fakeBeginner) {
	t.Helper()
	pool := &fakeBeginner{}
	svc, err := promo.NewService(promo.ServiceConfig{Store: store, Pool: pool})
	require.NoError(t, err)
	return svc, pool
}

func TestCreateInactivePromotion(t *testing.T) {
	store := newFakeStore()
	product := store.addProduct("A", "Widget", "0.50")
	svc, pool := newService(t, store)

	created, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    common.PgUUIDString(product.ID),
		Quantity:     3,
		SpecialPrice: money.MustParse("1.30"),
	})
	require.NoError(t, err)
	require.False(t, created.IsActive)
	require.Equal(t, []string{"insert"}, store.calls)
	require.Nil(t, pool.tx)
}

func TestCreateActiveDisplacesExisting(t *testing.T) {
	store := newFakeStore()
	product := store.addProduct("A", "Widget", "0.50")
	svc, pool := newService(t, store)

	first, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    common.PgUUIDString(product.ID),
		Quantity:     3,
		SpecialPrice: money.MustParse("1.30"),
		IsActive:     true,
	})
	require.NoError(t, err)
	require.True(t, first.IsActive)
	require.True(t, pool.tx.committed)

	second, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    common.PgUUIDString(product.ID),
		Quantity:     2,
		SpecialPrice: money.MustParse("0.90"),
		IsActive:     true,
	})
	require.NoError(t, err)
	require.True(t, second.IsActive)

	// only the latest promotion stays active
	active := 0
	for _, p := range store.promotions {
		if p.IsActive {
			active++
			require.Equal(t, second.ID, common.PgUUIDString(p.ID))
		}
	}
	require.Equal(t, 1, active)
	require.Equal(t, []string{"deactivate", "insert", "deactivate", "insert"}, store.calls)
}

func TestCreateRejectsNotCheaperBundle(t *testing.T) {
	store := newFakeStore()
	product := store.addProduct("A", "Widget", "0.50")
	svc, _ := newService(t, store)

	_, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    common.PgUUIDString(product.ID),
		Quantity:     3,
		SpecialPrice: money.MustParse("1.50"),
		IsActive:     true,
	})
	require.Error(t, err)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION", appErr.Code)
	require.Equal(t, "The special price must be less than the regular price (1.50).", appErr.Message)
	require.Empty(t, store.calls)
}

func TestCreateConflictOnUniqueViolation(t *testing.T) {
	store := newFakeStore()
	product := store.addProduct("A", "Widget", "0.50")
	store.insertErr = &pgconn.PgError{Code: "23505"}
	svc, pool := newService(t, store)

	_, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    common.PgUUIDString(product.ID),
		Quantity:     3,
		SpecialPrice: money.MustParse("1.30"),
		IsActive:     true,
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "CONFLICT", appErr.Code)
	require.True(t, pool.tx.rolledBack)
}

func TestCreateUnknownProduct(t *testing.T) {
	store := newFakeStore()
	svc, _ := newService(t, store)

	_, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    uuid.NewString(),
		Quantity:     2,
		SpecialPrice: money.MustParse("0.45"),
	})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION", appErr.Code)
}

func TestUpdateToActiveRoutesThroughDeactivation(t *testing.T) {
	store := newFakeStore()
	product := store.addProduct("B", "Gadget", "0.30")
	svc, _ := newService(t, store)

	created, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    common.PgUUIDString(product.ID),
		Quantity:     2,
		SpecialPrice: money.MustParse("0.45"),
	})
	require.NoError(t, err)
	store.calls = nil

	updated, err := svc.Update(context.Background(), created.ID, promo.UpdateParams{
		Quantity:     2,
		SpecialPrice: money.MustParse("0.45"),
		IsActive:     true,
	})
	require.NoError(t, err)
	require.True(t, updated.IsActive)
	require.Equal(t, []string{"deactivate", "update"}, store.calls)
}

func TestGetAndDeleteNotFound(t *testing.T) {
	store := newFakeStore()
	svc, _ := newService(t, store)

	_, err := svc.Get(context.Background(), uuid.NewString())
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)

	err = svc.Delete(context.Background(), "not-a-uuid")
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestListIncludesProductInfo(t *testing.T) {
	store := newFakeStore()
	product := store.addProduct("A", "Widget", "0.50")
	svc, _ := newService(t, store)

	_, err := svc.Create(context.Background(), promo.CreateParams{
		ProductID:    common.PgUUIDString(product.ID),
		Quantity:     3,
		SpecialPrice: money.MustParse("1.30"),
	})
	require.NoError(t, err)

	result, err := svc.List(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Total)
	require.Len(t, result.Items, 1)
	require.Equal(t, "A", result.Items[0].ProductSKU)
	require.Equal(t, "Widget", result.Items[0].ProductName)
}
