package broker

import (
	"context"
	"errors"

	"dca-trading-bot/internal/model"

	"github.com/shopspring/decimal"
)

// ErrNoQuote is returned by LastPrice when the venue produced no usable
// price within the polling budget. Callers treat it as "no data this
// cycle", never as fatal.
var ErrNoQuote = errors.New("no quote available")

// OrderRequest describes an order to place. LimitPrice is nil for
// market orders.
type OrderRequest struct {
	Symbol      string
	Side        model.Side
	Type        model.OrderType
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal
	TimeInForce string
	OutsideRTH  bool
}

// Broker wraps the trading venue connection. Every call is independently
// failable; network and auth errors must never crash the control loop.
// The connection handle is owned by the running loop instance: Stop()
// closes it so a restart connects fresh.
type Broker interface {
	Connect(ctx context.Context) error
	Positions(ctx context.Context) ([]model.BrokerPosition, error)
	OpenOrders(ctx context.Context) ([]model.OrderSnapshot, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (model.OrderSnapshot, error)
	Close() error
}
