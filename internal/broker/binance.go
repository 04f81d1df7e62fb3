package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dca-trading-bot/internal/logger"
	"dca-trading-bot/internal/model"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// quote polling budget: try a few times briefly, then report ErrNoQuote
// instead of blocking the loop.
const (
	priceAttempts = 3
	priceRetryGap = 300 * time.Millisecond
)

// BinanceBroker implements Broker against Binance USDⓈ-M futures, which
// exposes the position snapshot (amount + entry price) the reconciler
// needs. Order ids on this venue are stable across reconnects, so they
// serve as both the session and the permanent id.
type BinanceBroker struct {
	apiKey    string
	secretKey string

	mu     sync.Mutex
	client *futures.Client
}

func NewBinanceBroker(apiKey, secretKey string, testnet bool) *BinanceBroker {
	futures.UseTestnet = testnet
	return &BinanceBroker{
		apiKey:    apiKey,
		secretKey: secretKey,
	}
}

// Connect opens a fresh client and verifies reachability. Reuses the
// existing handle when one is already live.
func (b *BinanceBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return nil
	}

	client := futures.NewClient(b.apiKey, b.secretKey)
	if err := client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("broker ping failed: %w", err)
	}

	b.client = client
	logger.Info("Broker connected")
	return nil
}

// Close releases the connection handle so the next Connect starts fresh.
func (b *BinanceBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = nil
	return nil
}

func (b *BinanceBroker) conn() (*futures.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil, fmt.Errorf("broker not connected")
	}
	return b.client, nil
}

func (b *BinanceBroker) Positions(ctx context.Context) ([]model.BrokerPosition, error) {
	client, err := b.conn()
	if err != nil {
		return nil, err
	}

	risks, err := client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	var positions []model.BrokerPosition
	for _, r := range risks {
		qty, err := decimal.NewFromString(r.PositionAmt)
		if err != nil {
			logger.Warn("Skipping position with bad amount", "symbol", r.Symbol, "amt", r.PositionAmt)
			continue
		}
		avg, err := decimal.NewFromString(r.EntryPrice)
		if err != nil {
			logger.Warn("Skipping position with bad entry price", "symbol", r.Symbol, "entry", r.EntryPrice)
			continue
		}
		positions = append(positions, model.BrokerPosition{
			Symbol:   r.Symbol,
			Quantity: qty,
			AvgCost:  avg,
		})
	}
	return positions, nil
}

func (b *BinanceBroker) OpenOrders(ctx context.Context) ([]model.OrderSnapshot, error) {
	client, err := b.conn()
	if err != nil {
		return nil, err
	}

	orders, err := client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}

	snapshots := make([]model.OrderSnapshot, 0, len(orders))
	for _, o := range orders {
		snapshots = append(snapshots, orderToSnapshot(o))
	}
	return snapshots, nil
}

// LastPrice polls the ticker endpoint briefly; on a missing or zero
// quote it returns ErrNoQuote rather than blocking indefinitely.
func (b *BinanceBroker) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	client, err := b.conn()
	if err != nil {
		return decimal.Zero, err
	}

	for attempt := 0; attempt < priceAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(priceRetryGap):
			}
		}

		prices, err := client.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			logger.Debug("Price fetch failed", "symbol", symbol, "attempt", attempt+1, "error", err)
			continue
		}
		for _, p := range prices {
			if p.Symbol != symbol {
				continue
			}
			last, err := decimal.NewFromString(p.Price)
			if err == nil && last.IsPositive() {
				return last, nil
			}
		}
	}
	return decimal.Zero, ErrNoQuote
}

func (b *BinanceBroker) PlaceOrder(ctx context.Context, req OrderRequest) (model.OrderSnapshot, error) {
	client, err := b.conn()
	if err != nil {
		return model.OrderSnapshot{}, err
	}

	svc := client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Quantity(req.Quantity.String()).
		NewClientOrderID("dca-" + uuid.NewString()[:18])

	switch req.Type {
	case model.OrderTypeLimit:
		if req.LimitPrice == nil {
			return model.OrderSnapshot{}, fmt.Errorf("limit order for %s without limit price", req.Symbol)
		}
		tif := futures.TimeInForceTypeGTC
		if req.TimeInForce != "" {
			tif = futures.TimeInForceType(req.TimeInForce)
		}
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(tif).Price(req.LimitPrice.String())
	case model.OrderTypeMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	default:
		return model.OrderSnapshot{}, fmt.Errorf("unsupported order type %q", req.Type)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("order placement failed for %s: %w", req.Symbol, err)
	}

	snap := model.OrderSnapshot{
		OrderID:       resp.OrderID,
		PermID:        resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		LimitPrice:    req.LimitPrice,
		TimeInForce:   req.TimeInForce,
		OutsideRTH:    req.OutsideRTH,
		Status:        mapOrderStatus(resp.Status),
		Filled:        decimalOrZero(resp.ExecutedQuantity),
		Remaining:     decimalOrZero(resp.OrigQuantity).Sub(decimalOrZero(resp.ExecutedQuantity)),
	}
	if avg := decimalOrZero(resp.AvgPrice); avg.IsPositive() {
		snap.AvgFillPrice = &avg
	}
	return snap, nil
}

func orderToSnapshot(o *futures.Order) model.OrderSnapshot {
	snap := model.OrderSnapshot{
		OrderID:       o.OrderID,
		PermID:        o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          model.Side(o.Side),
		Type:          mapOrderType(o.Type),
		TimeInForce:   string(o.TimeInForce),
		Status:        mapOrderStatus(o.Status),
		Filled:        decimalOrZero(o.ExecutedQuantity),
		Remaining:     decimalOrZero(o.OrigQuantity).Sub(decimalOrZero(o.ExecutedQuantity)),
	}
	if price := decimalOrZero(o.Price); price.IsPositive() {
		snap.LimitPrice = &price
	}
	if avg := decimalOrZero(o.AvgPrice); avg.IsPositive() {
		snap.AvgFillPrice = &avg
	}
	return snap
}

func mapOrderType(t futures.OrderType) model.OrderType {
	if t == futures.OrderTypeMarket {
		return model.OrderTypeMarket
	}
	return model.OrderTypeLimit
}

func mapOrderStatus(s futures.OrderStatusType) model.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew, futures.OrderStatusTypePartiallyFilled:
		return model.StatusSubmitted
	case futures.OrderStatusTypeFilled:
		return model.StatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return model.StatusCancelled
	case futures.OrderStatusTypeRejected:
		return model.StatusInactive
	default:
		return model.StatusPendingSubmit
	}
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
