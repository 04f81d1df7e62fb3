package repository

import (
	"context"
	"testing"
	"time"

	"dca-trading-bot/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPositionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.Position(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown symbol yields nil, not an error")

	pos := model.Position{
		Symbol:   "BTCUSDT",
		Quantity: decimal.RequireFromString("2.5"),
		AvgCost:  decimal.RequireFromString("101.25"),
		Last:     decimal.RequireFromString("99.5"),
		Status:   model.PositionOpen,
	}
	require.NoError(t, store.UpsertPosition(ctx, pos))

	got, err := store.Position(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Quantity.Equal(pos.Quantity))
	assert.True(t, got.AvgCost.Equal(pos.AvgCost))
	assert.True(t, got.Last.Equal(pos.Last))
	assert.Equal(t, model.PositionOpen, got.Status)

	// Upsert overwrites in place.
	pos.Quantity = decimal.Zero
	pos.Status = model.PositionFlat
	require.NoError(t, store.UpsertPosition(ctx, pos))

	got, err = store.Position(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, got.Quantity.IsZero())
	assert.Equal(t, model.PositionFlat, got.Status)
}

func TestOpenPositions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, p := range []model.Position{
		{Symbol: "ETHUSDT", Quantity: decimal.NewFromInt(1), AvgCost: decimal.NewFromInt(50), Last: decimal.NewFromInt(51), Status: model.PositionOpen},
		{Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(2), AvgCost: decimal.NewFromInt(100), Last: decimal.NewFromInt(99), Status: model.PositionOpen},
		{Symbol: "ADAUSDT", Quantity: decimal.Zero, AvgCost: decimal.Zero, Last: decimal.NewFromInt(1), Status: model.PositionFlat},
	} {
		require.NoError(t, store.UpsertPosition(ctx, p))
	}

	open, err := store.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)
	assert.Equal(t, "ETHUSDT", open[1].Symbol)
}

func TestPositionsFor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPosition(ctx, model.Position{
		Symbol: "BTCUSDT", Quantity: decimal.NewFromInt(1),
		AvgCost: decimal.NewFromInt(100), Last: decimal.NewFromInt(100),
		Status: model.PositionOpen,
	}))

	got, err := store.PositionsFor(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "BTCUSDT")

	empty, err := store.PositionsFor(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func limitOrder(permID int64, status model.OrderStatus) model.OrderSnapshot {
	price := decimal.NewFromInt(100)
	return model.OrderSnapshot{
		OrderID:       permID,
		PermID:        permID,
		ClientOrderID: "test",
		Symbol:        "BTCUSDT",
		Side:          model.SideBuy,
		Type:          model.OrderTypeLimit,
		LimitPrice:    &price,
		TimeInForce:   "GTC",
		Status:        status,
		Remaining:     decimal.NewFromInt(5),
	}
}

func TestUpsertOrderUpdatesOnlyMutableFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertOrder(ctx, limitOrder(1, model.StatusSubmitted)))

	update := limitOrder(1, model.StatusFilled)
	update.Symbol = "ETHUSDT" // identity fields must not move
	update.Filled = decimal.NewFromInt(5)
	update.Remaining = decimal.Zero
	require.NoError(t, store.UpsertOrder(ctx, update))

	open, err := store.OpenOrdersFor(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open, "filled order is no longer open")

	has, err := store.HasOpenOrder(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.False(t, has, "symbol rewrite on conflict is ignored")
}

func TestHasOpenOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	has, err := store.HasOpenOrder(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.UpsertOrder(ctx, limitOrder(1, model.StatusSubmitted)))

	has, err = store.HasOpenOrder(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestKillOrdersMissingFrom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertOrder(ctx, limitOrder(1, model.StatusSubmitted)))
	require.NoError(t, store.UpsertOrder(ctx, limitOrder(2, model.StatusSubmitted)))
	require.NoError(t, store.UpsertOrder(ctx, limitOrder(3, model.StatusFilled)))

	killed, err := store.KillOrdersMissingFrom(ctx, map[model.OrderKey]struct{}{
		{OrderID: 2, PermID: 2}: {},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), killed, "closed orders are not swept")

	open, err := store.OpenOrdersFor(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].PermID)
}

func TestKillSweepMatchesFullKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	local := limitOrder(100, model.StatusSubmitted)
	local.OrderID = 5 // session id differs from the permanent id
	require.NoError(t, store.UpsertOrder(ctx, local))

	// Same perm id but a different session id does not count as live.
	killed, err := store.KillOrdersMissingFrom(ctx, map[model.OrderKey]struct{}{
		{OrderID: 6, PermID: 100}: {},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), killed)
}

func TestWhitelist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, existed, err := store.AddPairs(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, existed)

	added, existed, err = store.AddPairs(ctx, []string{"BTCUSDT", "ADAUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, existed)

	pairs, err := store.Whitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADAUSDT", "BTCUSDT", "ETHUSDT"}, pairs)

	removed, err := store.RemovePairs(ctx, []string{"ETHUSDT", "DOGEUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	pairs, err = store.Whitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ADAUSDT", "BTCUSDT"}, pairs)
}

func TestTradeParamsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	none, err := store.TradeParams(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "no profile until one is saved")

	profile := model.Profile{
		BaseQty:             decimal.NewFromInt(5),
		AveragingTriggerPct: decimal.RequireFromString("2.5"),
		AveragingMultiplier: decimal.NewFromInt(2),
		TakeProfitPct:       decimal.NewFromInt(3),
		PollInterval:        5 * time.Second,
		WholeUnits:          true,
		MaintainExit:        true,
		Aux:                 map[string]string{"trailing": "off"},
	}
	require.NoError(t, store.SaveTradeParams(ctx, profile))

	got, err := store.TradeParams(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.BaseQty.Equal(profile.BaseQty))
	assert.True(t, got.AveragingTriggerPct.Equal(profile.AveragingTriggerPct))
	assert.True(t, got.AveragingMultiplier.Equal(profile.AveragingMultiplier))
	assert.True(t, got.TakeProfitPct.Equal(profile.TakeProfitPct))
	assert.Equal(t, 5*time.Second, got.PollInterval)
	assert.True(t, got.WholeUnits)
	assert.True(t, got.MaintainExit)
	assert.Equal(t, "off", got.Aux["trailing"])
}

func TestTradeParamsLatestWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := model.Profile{
		BaseQty:             decimal.NewFromInt(1),
		AveragingTriggerPct: decimal.NewFromInt(2),
		AveragingMultiplier: decimal.NewFromInt(1),
		TakeProfitPct:       decimal.NewFromInt(2),
		PollInterval:        2 * time.Second,
	}
	require.NoError(t, store.SaveTradeParams(ctx, first))

	second := first
	second.BaseQty = decimal.NewFromInt(10)
	require.NoError(t, store.SaveTradeParams(ctx, second))

	got, err := store.TradeParams(ctx)
	require.NoError(t, err)
	assert.True(t, got.BaseQty.Equal(decimal.NewFromInt(10)))
}
