package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/catalog"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/db"
	"github.com/noah-isme/backend-pos/internal/money"
)

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

type fakeQueries struct {
	products map[string]db.Product
	checkout []db.CatalogProductRow

	checkoutCalls int
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{products: map[string]db.Product{}}
}

func (f *fakeQueries) ListProducts(_ context.Context, limit, offset int32) ([]db.Product, error) {
	all := make([]db.Product, 0, len(f.products))
	for _, p := range f.products {
		all = append(all, p)
	}
	// deterministic order by sku, mirroring the real query
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].SKU < all[i].SKU {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	start := int(offset)
	if start > len(all) {
		return nil, nil
	}
	end := start + int(limit)
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeQueries) CountProducts(context.Context) (int64, error) {
	return int64(len(f.products)), nil
}

func (f *fakeQueries) GetProductByID(_ context.Context, id pgtype.UUID) (db.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return db.Product{}, pgx.ErrNoRows
}

func (f *fakeQueries) InsertProduct(_ context.Context, arg db.InsertProductParams) (db.Product, error) {
	if _, exists := f.products[arg.SKU]; exists {
		return db.Product{}, uniqueViolation()
	}
	p := db.Product{
		ID:        pgtype.UUID{Bytes: uuid.New(), Valid: true},
		SKU:       arg.SKU,
		Name:      arg.Name,
		UnitPrice: arg.UnitPrice,
		IsActive:  arg.IsActive,
		CreatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
		UpdatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	}
	f.products[arg.SKU] = p
	return p, nil
}

func (f *fakeQueries) UpdateProduct(_ context.Context, arg db.UpdateProductParams) (db.Product, error) {
	for sku, p := range f.products {
		if p.ID == arg.ID {
			delete(f.products, sku)
			p.SKU = arg.SKU
			p.Name = arg.Name
			p.UnitPrice = arg.UnitPrice
			p.IsActive = arg.IsActive
			f.products[arg.SKU] = p
			return p, nil
		}
	}
	return db.Product{}, pgx.ErrNoRows
}

func (f *fakeQueries) DeleteProduct(_ context.Context, id pgtype.UUID) (int64, error) {
	for sku, p := range f.products {
		if p.ID == id {
			delete(f.products, sku)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeQueries) ListCheckoutProducts(context.Context) ([]db.CatalogProductRow, error) {
	f.checkoutCalls++
	return f.checkout, nil
}

func newHandler(t *testing.T, queries *fakeQueries) *catalog.Handler {
	t.Helper()
	svc, err := catalog.NewService(catalog.ServiceConfig{Queries: queries})
	require.NoError(t, err)
	return catalog.NewHandler(catalog.HandlerConfig{Service: svc, DefaultPerPage: 15, MaxPerPage: 100})
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestProductCreateAndGet(t *testing.T) {
	queries := newFakeQueries()
	handler := newHandler(t, queries)

	body := `{"sku":"a","name":"Widget","unit_price":"0.50"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data catalog.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "A", created.Data.SKU)
	require.True(t, created.Data.IsActive)
	require.True(t, created.Data.UnitPrice.Equal(money.MustParse("0.50")))

	getReq := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/products/"+created.Data.ID, nil), "id", created.Data.ID)
	getRec := httptest.NewRecorder()
	handler.Get(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestProductCreateDuplicateSKUConflicts(t *testing.T) {
	queries := newFakeQueries()
	handler := newHandler(t, queries)

	body := `{"sku":"A","name":"Widget","unit_price":"0.50"}`
	rec := httptest.NewRecorder()
	handler.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/products", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	handler.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/products", strings.NewReader(body)))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "CONFLICT")
}

func TestProductCreateValidation(t *testing.T) {
	handler := newHandler(t, newFakeQueries())

	cases := []string{
		`{"name":"missing sku","unit_price":"1.00"}`,
		`{"sku":"A","name":"bad price","unit_price":"-1"}`,
		`{"sku":"A","name":"sub cent","unit_price":"0.503"}`,
		`{not json`,
	}
	for _, body := range cases {
		rec := httptest.NewRecorder()
		handler.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/products", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestProductListPagination(t *testing.T) {
	queries := newFakeQueries()
	handler := newHandler(t, queries)

	for _, sku := range []string{"A", "B", "C"} {
		body := `{"sku":"` + sku + `","name":"Item ` + sku + `","unit_price":"1.00"}`
		rec := httptest.NewRecorder()
		handler.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/products", strings.NewReader(body)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", rec.Header().Get("X-Total-Count"))

	var resp struct {
		Data       []catalog.Product `json:"data"`
		Pagination common.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Equal(t, "A", resp.Data[0].SKU)
	require.Equal(t, 3, resp.Pagination.TotalItems)
}

func TestProductUpdateAndDelete(t *testing.T) {
	queries := newFakeQueries()
	handler := newHandler(t, queries)

	rec := httptest.NewRecorder()
	handler.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/products",
		strings.NewReader(`{"sku":"A","name":"Widget","unit_price":"0.50"}`)))
	var created struct {
		Data catalog.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	upd := httptest.NewRequest(http.MethodPut, "/api/v1/products/"+created.Data.ID,
		strings.NewReader(`{"sku":"A","name":"Widget v2","unit_price":"0.60","is_active":false}`))
	updRec := httptest.NewRecorder()
	handler.Update(updRec, withURLParam(upd, "id", created.Data.ID))
	require.Equal(t, http.StatusOK, updRec.Code)

	var updated struct {
		Data catalog.Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(updRec.Body.Bytes(), &updated))
	require.Equal(t, "Widget v2", updated.Data.Name)
	require.False(t, updated.Data.IsActive)

	delReq := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/v1/products/"+created.Data.ID, nil), "id", created.Data.ID)
	delRec := httptest.NewRecorder()
	handler.Delete(delRec, delReq)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	delRec = httptest.NewRecorder()
	handler.Delete(delRec, delReq)
	require.Equal(t, http.StatusNotFound, delRec.Code)
}

func TestGetUnknownProductNotFound(t *testing.T) {
	handler := newHandler(t, newFakeQueries())

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/products/not-a-uuid", nil), "id", "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.Get(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	id := uuid.NewString()
	req = withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/products/"+id, nil), "id", id)
	rec = httptest.NewRecorder()
	handler.Get(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutProductsIncludePromotions(t *testing.T) {
	queries := newFakeQueries()
	queries.checkout = []db.CatalogProductRow{
		{
			ID:            pgtype.UUID{Bytes: uuid.New(), Valid: true},
			SKU:           "A",
			Name:          "Widget",
			UnitPrice:     money.MustParse("0.50"),
			IsActive:      true,
			PromoQuantity: pgtype.Int4{Int32: 3, Valid: true},
			PromoPrice:    decimal.NullDecimal{Decimal: money.MustParse("1.30"), Valid: true},
		},
		{
			ID:        pgtype.UUID{Bytes: uuid.New(), Valid: true},
			SKU:       "C",
			Name:      "Bolt",
			UnitPrice: money.MustParse("0.20"),
			IsActive:  true,
		},
	}
	handler := newHandler(t, queries)

	rec := httptest.NewRecorder()
	handler.CheckoutProducts(rec, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []catalog.CheckoutProduct `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.NotNil(t, resp.Data[0].Promotion)
	require.Equal(t, 3, resp.Data[0].Promotion.Quantity)
	require.Nil(t, resp.Data[1].Promotion)
}
