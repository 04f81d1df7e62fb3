package core

import (
	"context"
	"errors"
	"testing"

	"dca-trading-bot/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerSyncsPositions(t *testing.T) {
	store := newTestStore(t)
	venue := newFakeBroker()
	venue.positions = []model.BrokerPosition{
		{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(3), AvgCost: decimal.NewFromInt(100)},
		{Symbol: "ETHUSDT", Quantity: decimal.Zero, AvgCost: decimal.Zero},
	}

	active := NewReconciler(store, venue).Run(context.Background())

	assert.Equal(t, []string{"BTCUSDT"}, active)

	pos, err := store.Position(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, model.PositionOpen, pos.Status)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(100)))

	flat, err := store.Position(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, flat)
	assert.Equal(t, model.PositionFlat, flat.Status)
}

func TestReconcilerPreservesLastPrice(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertPosition(context.Background(), model.Position{
		Symbol:   "BTCUSDT",
		Quantity: decimal.NewFromInt(1),
		AvgCost:  decimal.NewFromInt(90),
		Last:     decimal.NewFromInt(101),
		Status:   model.PositionOpen,
	}))

	venue := newFakeBroker()
	venue.positions = []model.BrokerPosition{
		{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(2), AvgCost: decimal.NewFromInt(95)},
	}

	NewReconciler(store, venue).Run(context.Background())

	pos, err := store.Position(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)), "broker truth wins")
	assert.True(t, pos.Last.Equal(decimal.NewFromInt(101)), "local last price survives")
}

func TestReconcilerKillSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := model.OrderSnapshot{
		OrderID: 5, PermID: 100, Symbol: "BTCUSDT",
		Side: model.SideBuy, Type: model.OrderTypeLimit,
		Status: model.StatusSubmitted,
	}
	live := model.OrderSnapshot{
		OrderID: 6, PermID: 101, Symbol: "BTCUSDT",
		Side: model.SideSell, Type: model.OrderTypeLimit,
		Status: model.StatusSubmitted,
	}
	require.NoError(t, store.UpsertOrder(ctx, stale))
	require.NoError(t, store.UpsertOrder(ctx, live))

	venue := newFakeBroker()
	venue.orders = []model.OrderSnapshot{live}

	NewReconciler(store, venue).Run(ctx)

	open, err := store.OpenOrdersFor(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(101), open[0].PermID)
}

func TestReconcilerIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	venue := newFakeBroker()
	venue.positions = []model.BrokerPosition{
		{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(3), AvgCost: decimal.NewFromInt(100)},
	}
	venue.orders = []model.OrderSnapshot{{
		OrderID: 7, PermID: 7, Symbol: "BTCUSDT",
		Side: model.SideBuy, Type: model.OrderTypeLimit,
		Status: model.StatusSubmitted,
	}}

	rec := NewReconciler(store, venue)
	first := rec.Run(ctx)
	second := rec.Run(ctx)

	assert.Equal(t, first, second)

	open, err := store.OpenOrdersFor(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestReconcilerKeepsStateWhenBrokerUnreachable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	venue := newFakeBroker()
	venue.positions = []model.BrokerPosition{
		{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(3), AvgCost: decimal.NewFromInt(100)},
	}

	rec := NewReconciler(store, venue)
	require.Equal(t, []string{"BTCUSDT"}, rec.Run(ctx))

	venue.setConnectErr(errors.New("connection refused"))
	assert.Equal(t, []string{"BTCUSDT"}, rec.Run(ctx), "previous active set survives an outage")
}

func TestReconcilerDropsVanishedSymbols(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	venue := newFakeBroker()
	venue.positions = []model.BrokerPosition{
		{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(3), AvgCost: decimal.NewFromInt(100)},
	}

	rec := NewReconciler(store, venue)
	require.Equal(t, []string{"BTCUSDT"}, rec.Run(ctx))

	venue.mu.Lock()
	venue.positions = nil
	venue.mu.Unlock()

	assert.Empty(t, rec.Run(ctx))
}
