package service_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const userID int64 = 7

func newCartService(products ...models.Product) (service.CartService, *fakeProductRepo, *fakeCartRepo) {
	productRepo := newFakeProductRepo(products...)
	cartRepo := newFakeCartRepo(productRepo)
	return service.NewCartService(newLogger(), productRepo, cartRepo), productRepo, cartRepo
}

var (
	p1       = models.Product{ID: 1, Name: "Chaise", SKU: "CH-001", UnitPrice: 1000, Stock: 5, IsActive: true}
	p2       = models.Product{ID: 2, Name: "Table", SKU: "TB-001", UnitPrice: 5000, Stock: 2, IsActive: true}
	soldOut  = models.Product{ID: 3, Name: "Lamp", UnitPrice: 700, Stock: 0, IsActive: true}
	inactive = models.Product{ID: 4, Name: "Old", UnitPrice: 100, Stock: 9, IsActive: false}
)

func TestCartService_AddClampsSum(t *testing.T) {
	svc, _, _ := newCartService(p1)
	ctx := context.Background()

	_, err := svc.Add(ctx, userID, p1.ID, 2)
	require.NoError(t, err)

	view, err := svc.Add(ctx, userID, p1.ID, 10)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 5, view.Items[0].Quantity, "clamp(2 + 10, 5)")
	assert.Equal(t, 5, view.TotalCount)
	assert.Equal(t, int64(5000), view.TotalPrice)
}

func TestCartService_Errors(t *testing.T) {
	svc, _, _ := newCartService(p1, soldOut, inactive)
	ctx := context.Background()

	_, err := svc.Add(ctx, 0, p1.ID, 1)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)

	_, err = svc.Add(ctx, userID, 99, 1)
	assert.ErrorIs(t, err, service.ErrProductNotFound)

	_, err = svc.Add(ctx, userID, inactive.ID, 1)
	assert.ErrorIs(t, err, service.ErrProductInactive)

	_, err = svc.Add(ctx, userID, soldOut.ID, 1)
	assert.ErrorIs(t, err, service.ErrInsufficientStock)

	_, err = svc.Update(ctx, userID, p1.ID, 2)
	assert.ErrorIs(t, err, service.ErrNotFound, "update does not create lines")

	_, err = svc.Get(ctx, -1)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)

	_, err = svc.Remove(ctx, 0, p1.ID)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestCartService_UpdateFloorAndCeiling(t *testing.T) {
	svc, _, _ := newCartService(p1)
	ctx := context.Background()

	_, err := svc.Add(ctx, userID, p1.ID, 3)
	require.NoError(t, err)

	view, err := svc.Update(ctx, userID, p1.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Items[0].Quantity, "cannot zero out through update")

	view, err = svc.Update(ctx, userID, p1.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, view.Items[0].Quantity)

	view, err = svc.Update(ctx, userID, p1.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Items[0].Quantity)
}

func TestCartService_RemoveIsIdempotent(t *testing.T) {
	svc, _, _ := newCartService(p1)
	ctx := context.Background()

	_, err := svc.Add(ctx, userID, p1.ID, 1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		view, err := svc.Remove(ctx, userID, p1.ID)
		require.NoError(t, err)
		assert.Empty(t, view.Items)
		assert.NotNil(t, view.Items)
	}
}

func TestCartService_GetHidesAndReclamps(t *testing.T) {
	svc, products, cartRepo := newCartService(p1, p2)
	ctx := context.Background()

	_, err := svc.Add(ctx, userID, p1.ID, 5)
	require.NoError(t, err)
	_, err = svc.Add(ctx, userID, p2.ID, 2)
	require.NoError(t, err)

	// остаток уменьшился, второй товар сняли с продажи
	products.products[p1.ID].Stock = 3
	products.products[p2.ID].IsActive = false

	view, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 3, view.Items[0].Quantity)
	assert.Equal(t, 2, cartRepo.rows[userID][p2.ID], "hidden line is not deleted")

	products.products[p2.ID].IsActive = true
	view, err = svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
}

func TestCartService_InvariantHoldsForRandomSequences(t *testing.T) {
	svc, _, cartRepo := newCartService(p1, p2)
	ctx := context.Background()
	rnd := rand.New(rand.NewSource(42))
	stock := map[int64]int{p1.ID: p1.Stock, p2.ID: p2.Stock}

	for i := 0; i < 500; i++ {
		productID := int64(rnd.Intn(2) + 1)
		qty := rnd.Intn(20) - 5
		switch rnd.Intn(3) {
		case 0:
			_, _ = svc.Add(ctx, userID, productID, qty)
		case 1:
			_, _ = svc.Update(ctx, userID, productID, qty)
		case 2:
			_, _ = svc.Remove(ctx, userID, productID)
		}

		for id, q := range cartRepo.rows[userID] {
			assert.GreaterOrEqual(t, q, 1)
			assert.LessOrEqual(t, q, stock[id])
		}
	}
}

func TestCartService_ConcurrentUpdatesLastWriterWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		svc, _, cartRepo := newCartService(p1)
		ctx := context.Background()
		_, err := svc.Add(ctx, userID, p1.ID, 1)
		require.NoError(t, err)

		g, gctx := errgroup.WithContext(ctx)
		for _, qty := range []int{3, 4} {
			qty := qty
			g.Go(func() error {
				_, err := svc.Update(gctx, userID, p1.ID, qty)
				return err
			})
		}
		require.NoError(t, g.Wait())

		assert.Contains(t, []int{3, 4}, cartRepo.rows[userID][p1.ID])
	}
}

func TestCartService_Clear(t *testing.T) {
	svc, _, carts := newCartService(p1, p2)
	ctx := context.Background()

	_, err := svc.Add(ctx, userID, p1.ID, 1)
	require.NoError(t, err)
	_, err = svc.Add(ctx, userID, p2.ID, 1)
	require.NoError(t, err)

	view, err := svc.Clear(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.Empty(t, carts.rows[userID])

	_, err = svc.Clear(ctx, 0)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)
}

func TestCartService_ClearFailureKeepsRows(t *testing.T) {
	svc, _, carts := newCartService(p1)
	ctx := context.Background()

	_, err := svc.Add(ctx, userID, p1.ID, 2)
	require.NoError(t, err)
	carts.clearErr = errors.New("db down")

	_, err = svc.Clear(ctx, userID)
	require.Error(t, err)
	assert.Equal(t, 2, carts.rows[userID][p1.ID])
}

func TestCartService_ReloadFailureAfterWriteIsNotAnError(t *testing.T) {
	svc, _, carts := newCartService(p1)
	ctx := context.Background()

	// запись проходит, чтение корзины после неё падает
	carts.err = errors.New("db down")

	view, err := svc.Add(ctx, userID, p1.ID, 2)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Equal(t, 2, carts.rows[userID][p1.ID])

	view, err = svc.Update(ctx, userID, p1.ID, 3)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Equal(t, 3, carts.rows[userID][p1.ID])

	view, err = svc.Remove(ctx, userID, p1.ID)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Empty(t, carts.rows[userID])

	carts.err = nil
	view, err = svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, view.Stale)
}
