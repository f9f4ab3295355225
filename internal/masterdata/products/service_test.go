package products

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/shared"
)

type memoryRepo struct {
	products map[int64]Product
	variants map[int64]Variant
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: map[int64]Product{}, variants: map[int64]Variant{}}
}

func (r *memoryRepo) List(context.Context, shared.ListFilters) ([]Product, int, error) {
	var out []Product
	for _, p := range r.products {
		out = append(out, p)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) Create(_ context.Context, p Product) (Product, error) {
	r.nextID++
	p.ID = r.nextID
	r.products[p.ID] = p
	return p, nil
}

func (r *memoryRepo) Update(_ context.Context, id int64, p Product) error {
	if _, ok := r.products[id]; !ok {
		return shared.ErrNotFound
	}
	p.ID = id
	r.products[id] = p
	return nil
}

func (r *memoryRepo) GetVariant(_ context.Context, id int64) (Variant, error) {
	v, ok := r.variants[id]
	if !ok {
		return Variant{}, shared.ErrNotFound
	}
	return v, nil
}

func (r *memoryRepo) ListVariants(_ context.Context, productID int64) ([]Variant, error) {
	var out []Variant
	for _, v := range r.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateVariant(_ context.Context, v Variant) (Variant, error) {
	r.nextID++
	v.ID = r.nextID
	r.variants[v.ID] = v
	return v, nil
}

type stubInitializer struct {
	calls    []inventory.Variant
	branches int
	err      error
}

func (s *stubInitializer) InitializeVariant(_ context.Context, _ int64, variant inventory.Variant) ([]inventory.Record, error) {
	s.calls = append(s.calls, variant)
	if s.err != nil {
		return nil, s.err
	}
	return make([]inventory.Record, s.branches), nil
}

func TestCreateVariantInitialisesStock(t *testing.T) {
	repo := newMemoryRepo()
	stock := &stubInitializer{branches: 3}
	svc := NewService(repo, stock, nil)
	ctx := context.Background()

	product, err := svc.Create(ctx, Product{Code: "TS-01", Name: "T-Shirt", IsActive: true})
	require.NoError(t, err)

	variant, initialized, err := svc.CreateVariant(ctx, product.ID, Variant{SKU: "TS-01-M", Name: "M"})
	require.NoError(t, err)
	require.Equal(t, 3, initialized)
	require.Equal(t, product.ID, variant.ProductID)
	require.True(t, variant.IsActive)
	require.Len(t, stock.calls, 1)
	id, ok := stock.calls[0].ID()
	require.True(t, ok)
	require.Equal(t, variant.ID, id)
}

func TestCreateVariantRejectsInactiveProduct(t *testing.T) {
	repo := newMemoryRepo()
	stock := &stubInitializer{}
	svc := NewService(repo, stock, nil)
	ctx := context.Background()

	product, err := svc.Create(ctx, Product{Code: "OLD", Name: "Retired", IsActive: false})
	require.NoError(t, err)
	_, _, err = svc.CreateVariant(ctx, product.ID, Variant{SKU: "OLD-1", Name: "One"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.CreateVariant(ctx, 99, Variant{SKU: "X", Name: "X"})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, stock.calls)
}

func TestCreateVariantKeepsVariantWhenInitialisationFails(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &stubInitializer{err: errors.New("db down")}, nil)
	ctx := context.Background()
	product, err := svc.Create(ctx, Product{Code: "A", Name: "A", IsActive: true})
	require.NoError(t, err)

	variant, _, err := svc.CreateVariant(ctx, product.ID, Variant{SKU: "A-1", Name: "One"})
	require.Error(t, err)
	require.NotZero(t, variant.ID)
	require.Len(t, repo.variants, 1)
}

func TestIsActive(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	active, err := svc.Create(ctx, Product{Code: "A", Name: "A", IsActive: true})
	require.NoError(t, err)
	other, err := svc.Create(ctx, Product{Code: "B", Name: "B", IsActive: true})
	require.NoError(t, err)
	variant, _, err := svc.CreateVariant(ctx, active.ID, Variant{SKU: "A-1", Name: "One"})
	require.NoError(t, err)

	ok, err := svc.IsActive(ctx, active.ID, inventory.NoVariant())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.IsActive(ctx, active.ID, inventory.VariantOf(variant.ID))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.IsActive(ctx, other.ID, inventory.VariantOf(variant.ID))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.IsActive(ctx, active.ID, inventory.VariantOf(12345))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.IsActive(ctx, 777, inventory.NoVariant())
	require.NoError(t, err)
	require.False(t, ok)
}
