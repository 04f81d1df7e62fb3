package broker

import (
	"encoding/json"
	"testing"

	"dca-trading-bot/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderTradeUpdateJSON = `{
	"e": "ORDER_TRADE_UPDATE",
	"E": 1730000000000,
	"o": {
		"s": "BTCUSDT",
		"c": "dca-abc123",
		"S": "BUY",
		"o": "LIMIT",
		"f": "GTC",
		"q": "5",
		"p": "99.90",
		"X": "PARTIALLY_FILLED",
		"i": 123456,
		"l": "2",
		"z": "2",
		"L": "99.90",
		"ap": "99.90"
	}
}`

func TestOrderTradeUpdateToSnapshot(t *testing.T) {
	var event orderTradeUpdate
	require.NoError(t, json.Unmarshal([]byte(orderTradeUpdateJSON), &event))
	require.Equal(t, "ORDER_TRADE_UPDATE", event.Event)

	snap := event.toSnapshot()

	assert.Equal(t, int64(123456), snap.OrderID)
	assert.Equal(t, int64(123456), snap.PermID)
	assert.Equal(t, "dca-abc123", snap.ClientOrderID)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, model.SideBuy, snap.Side)
	assert.Equal(t, model.OrderTypeLimit, snap.Type)
	assert.Equal(t, model.StatusSubmitted, snap.Status, "partial fills stay open")
	assert.True(t, snap.Filled.Equal(decimal.NewFromInt(2)))
	assert.True(t, snap.Remaining.Equal(decimal.NewFromInt(3)))
	require.NotNil(t, snap.LimitPrice)
	assert.True(t, snap.LimitPrice.Equal(decimal.RequireFromString("99.90")))
}

func TestStreamStatusMapping(t *testing.T) {
	tests := []struct {
		venue string
		want  model.OrderStatus
	}{
		{"NEW", model.StatusSubmitted},
		{"PARTIALLY_FILLED", model.StatusSubmitted},
		{"FILLED", model.StatusFilled},
		{"CANCELED", model.StatusCancelled},
		{"EXPIRED", model.StatusCancelled},
		{"REJECTED", model.StatusInactive},
		{"SOMETHING_NEW", model.StatusPendingSubmit},
	}

	for _, tc := range tests {
		var event orderTradeUpdate
		event.Order.Status = tc.venue
		assert.Equal(t, tc.want, event.toSnapshot().Status, tc.venue)
	}
}
