package core

import (
	"context"
	"sync"
	"testing"

	"dca-trading-bot/internal/broker"
	"dca-trading-bot/internal/model"
	"dca-trading-bot/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeBroker is an in-memory venue. Orders placed through it show up in
// OpenOrders on the next call, mirroring how the real one behaves.
type fakeBroker struct {
	mu         sync.Mutex
	connectErr error
	positions  []model.BrokerPosition
	orders     []model.OrderSnapshot
	prices     map[string]decimal.Decimal
	placed     []broker.OrderRequest
	nextID     int64
	closed     int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		prices: make(map[string]decimal.Decimal),
		nextID: 1,
	}
}

func (f *fakeBroker) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeBroker) Positions(context.Context) ([]model.BrokerPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.BrokerPosition(nil), f.positions...), nil
}

func (f *fakeBroker) OpenOrders(context.Context) ([]model.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OrderSnapshot(nil), f.orders...), nil
}

func (f *fakeBroker) LastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, broker.ErrNoQuote
	}
	return price, nil
}

func (f *fakeBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (model.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placed = append(f.placed, req)
	snap := model.OrderSnapshot{
		OrderID:     f.nextID,
		PermID:      f.nextID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		LimitPrice:  req.LimitPrice,
		TimeInForce: req.TimeInForce,
		Status:      model.StatusSubmitted,
		Remaining:   req.Quantity,
	}
	f.nextID++
	f.orders = append(f.orders, snap)
	return snap, nil
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeBroker) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeBroker) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeBroker) setPrice(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	store, err := repository.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}
