package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplifi/internal/dbmysql"
	"amplifi/internal/dbmysql/dbtest"
)

func TestMarkPaid_Integration(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	products := []*dbmysql.Product{
		{ID: "tee", CreatorID: "alice", Name: "Tee", Price: 2000, Stock: 5, Active: true},
		{ID: "poster", CreatorID: "alice", Name: "Poster", Price: 1500, Stock: 1, Active: true},
		{ID: "sticker", CreatorID: "alice", Name: "Sticker", Price: 300, Stock: -1, Active: true},
	}
	for _, p := range products {
		require.NoError(t, repo.CreateProduct(ctx, p))
	}
	order := &dbmysql.Order{
		ID:              "o1",
		BuyerID:         "bob",
		Total:           9800,
		Status:          dbmysql.OrderStatusPending,
		PaymentIntentID: "pi_1",
		ShippingAddress: dbmysql.Address{Name: "Bob", Line1: "1 Main St", City: "Austin", Country: "US"},
		Items: []dbmysql.OrderItem{
			{ProductID: "tee", CreatorID: "alice", Name: "Tee", UnitPrice: 2000, Quantity: 2},
			{ProductID: "poster", CreatorID: "alice", Name: "Poster", UnitPrice: 1500, Quantity: 3},
			{ProductID: "sticker", CreatorID: "alice", Name: "Sticker", UnitPrice: 300, Quantity: 4},
		},
	}
	require.NoError(t, repo.CreateOrder(ctx, order))

	stock := func() map[string]int64 {
		out := map[string]int64{}
		for _, p := range products {
			got, err := repo.GetProduct(ctx, p.ID)
			require.NoError(t, err)
			out[p.ID] = got.Stock
		}
		return out
	}
	want := map[string]int64{"tee": 3, "poster": 0, "sticker": -1}

	paid, changed, err := repo.MarkPaid(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, dbmysql.OrderStatusPaid, paid.Status)
	assert.Len(t, paid.Items, 3)
	assert.Equal(t, want, stock())

	// redelivered webhook
	_, changed, err = repo.MarkPaid(ctx, "pi_1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, want, stock())

	_, _, err = repo.MarkPaid(ctx, "pi_missing")
	require.Error(t, err)
}
