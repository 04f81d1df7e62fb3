package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dca-trading-bot/internal/logger"
	"dca-trading-bot/internal/model"

	"github.com/gorilla/websocket"
)

const (
	streamBaseURL        = "wss://fstream.binance.com/ws"
	streamTestnetBaseURL = "wss://stream.binancefuture.com/ws"
	keepAliveInterval    = 30 * time.Minute
)

// orderTradeUpdate is the ORDER_TRADE_UPDATE payload from the user data
// stream.
type orderTradeUpdate struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		Type          string `json:"o"`
		TimeInForce   string `json:"f"`
		Quantity      string `json:"q"`
		Price         string `json:"p"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		LastFillQty   string `json:"l"`
		CumFillQty    string `json:"z"`
		LastFillPrice string `json:"L"`
		AvgFillPrice  string `json:"ap"`
	} `json:"o"`
}

// OrderStream pushes live order-status snapshots from the broker's user
// data stream. It is additive to the polling reconciler: fills surface
// between cycles, while reconciliation remains the source of truth.
type OrderStream struct {
	broker    *BinanceBroker
	testnet   bool
	listenKey string
	wsConn    *websocket.Conn
	Updates   chan model.OrderSnapshot
	stopCh    chan struct{}
}

func NewOrderStream(b *BinanceBroker, testnet bool) *OrderStream {
	return &OrderStream{
		broker:  b,
		testnet: testnet,
		Updates: make(chan model.OrderSnapshot, 100),
	}
}

// Start acquires a listen key, connects and blocks inside the read loop
// until the connection drops or Stop is called.
func (s *OrderStream) Start(ctx context.Context) error {
	client, err := s.broker.conn()
	if err != nil {
		return err
	}

	key, err := client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to get listen key: %w", err)
	}
	s.listenKey = key

	base := streamBaseURL
	if s.testnet {
		base = streamTestnetBaseURL
	}
	url := fmt.Sprintf("%s/%s", base, s.listenKey)
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to user stream: %w", err)
	}
	s.wsConn = c
	logger.Info("Order stream connected")

	s.stopCh = make(chan struct{})
	go s.keepAliveLoop()

	s.readLoop()
	return nil
}

func (s *OrderStream) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			client, err := s.broker.conn()
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = client.NewKeepaliveUserStreamService().ListenKey(s.listenKey).Do(ctx)
			cancel()
			if err != nil {
				logger.Error("Listen key keepalive failed", "error", err)
			}
		}
	}
}

func (s *OrderStream) readLoop() {
	defer func() {
		if s.wsConn != nil {
			s.wsConn.Close()
		}
		logger.Warn("Order stream connection closed")
	}()

	for {
		select {
		case <-s.stopCh:
			return
		default:
			_, message, err := s.wsConn.ReadMessage()
			if err != nil {
				logger.Error("Order stream read error", "error", err)
				return
			}

			var event orderTradeUpdate
			if err := json.Unmarshal(message, &event); err != nil {
				logger.Error("Failed to parse stream message", "error", err)
				continue
			}
			if event.Event != "ORDER_TRADE_UPDATE" {
				continue
			}

			s.Updates <- event.toSnapshot()
		}
	}
}

func (s *OrderStream) Stop() {
	if s.stopCh != nil {
		close(s.stopCh)
	}
	if s.listenKey != "" {
		if client, err := s.broker.conn(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = client.NewCloseUserStreamService().ListenKey(s.listenKey).Do(ctx)
			cancel()
		}
	}
	if s.wsConn != nil {
		_ = s.wsConn.Close()
	}
}

func (e orderTradeUpdate) toSnapshot() model.OrderSnapshot {
	o := e.Order

	snap := model.OrderSnapshot{
		OrderID:       o.OrderID,
		PermID:        o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          model.Side(o.Side),
		Type:          model.OrderTypeLimit,
		TimeInForce:   o.TimeInForce,
		Filled:        decimalOrZero(o.CumFillQty),
		Remaining:     decimalOrZero(o.Quantity).Sub(decimalOrZero(o.CumFillQty)),
	}
	if o.Type == "MARKET" {
		snap.Type = model.OrderTypeMarket
	}
	if price := decimalOrZero(o.Price); price.IsPositive() {
		snap.LimitPrice = &price
	}
	if avg := decimalOrZero(o.AvgFillPrice); avg.IsPositive() {
		snap.AvgFillPrice = &avg
	}
	if last := decimalOrZero(o.LastFillPrice); last.IsPositive() {
		snap.LastFillPrice = &last
	}

	switch o.Status {
	case "NEW", "PARTIALLY_FILLED":
		snap.Status = model.StatusSubmitted
	case "FILLED":
		snap.Status = model.StatusFilled
	case "CANCELED", "EXPIRED":
		snap.Status = model.StatusCancelled
	case "REJECTED":
		snap.Status = model.StatusInactive
	default:
		snap.Status = model.StatusPendingSubmit
	}
	return snap
}
