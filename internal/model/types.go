package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LMT"
	OrderTypeMarket OrderType = "MKT"
)

// OrderStatus mirrors the broker's order lifecycle. Killed is local-only:
// it marks orders that vanished broker-side between polling cycles.
type OrderStatus string

const (
	StatusPendingSubmit OrderStatus = "PendingSubmit"
	StatusPreSubmitted  OrderStatus = "PreSubmitted"
	StatusSubmitted     OrderStatus = "Submitted"
	StatusInactive      OrderStatus = "Inactive"
	StatusFilled        OrderStatus = "Filled"
	StatusCancelled     OrderStatus = "Cancelled"
	StatusKilled        OrderStatus = "Killed"
)

// OpenStatuses are the statuses counted as in-flight by the skip guard
// and the reconciler's kill-sweep.
var OpenStatuses = []OrderStatus{
	StatusSubmitted,
	StatusPreSubmitted,
	StatusPendingSubmit,
	StatusInactive,
}

func (s OrderStatus) IsOpen() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

type PositionStatus string

const (
	PositionFlat PositionStatus = "FLAT"
	PositionOpen PositionStatus = "OPEN"
)

// Position is the locally persisted view of one symbol. Overwritten from
// broker truth on every reconcile; the strategy updates it optimistically
// right after placing an averaging buy.
type Position struct {
	Symbol    string
	Quantity  decimal.Decimal
	AvgCost   decimal.Decimal
	Last      decimal.Decimal
	Status    PositionStatus
	UpdatedAt time.Time
}

// OrderKey identifies an order at the broker: OrderID is only stable
// within one connection, PermID survives reconnects.
type OrderKey struct {
	OrderID int64
	PermID  int64
}

// OrderSnapshot is the broker's view of an order at one point in time.
// Nullable broker fields (limit price on market orders, fill prices
// before any fill) are pointers.
type OrderSnapshot struct {
	OrderID       int64
	PermID        int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	LimitPrice    *decimal.Decimal
	TimeInForce   string
	OutsideRTH    bool
	Status        OrderStatus
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	AvgFillPrice  *decimal.Decimal
	LastFillPrice *decimal.Decimal
	WhyHeld       string
}

func (o OrderSnapshot) Key() OrderKey {
	return OrderKey{OrderID: o.OrderID, PermID: o.PermID}
}

// BrokerPosition is one row of the broker's position snapshot.
type BrokerPosition struct {
	Symbol   string
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// Profile is the active trade parameter record. Read fresh at the top of
// every loop iteration so edits apply without a restart. Aux carries the
// auxiliary strategy toggles the core does not act on yet.
type Profile struct {
	BaseQty             decimal.Decimal
	AveragingTriggerPct decimal.Decimal // percent, e.g. 2 means 2%
	AveragingMultiplier decimal.Decimal
	TakeProfitPct       decimal.Decimal // percent
	PollInterval        time.Duration
	OutsideRTH          bool
	WholeUnits          bool // floor sell quantities to whole lots
	MaintainExit        bool // keep a standing take-profit limit order
	Aux                 map[string]string
}

type ActionType int

const (
	ActionNone ActionType = iota
	ActionBuy
	ActionSell
	// ActionMaintainExit places the position's standing take-profit limit
	// order; it is the one sanctioned exception to the single-open-order
	// rule.
	ActionMaintainExit
)

func (a ActionType) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionMaintainExit:
		return "maintain-exit"
	default:
		return "none"
	}
}

// Action is the strategy's verdict for one symbol in one iteration.
type Action struct {
	Type       ActionType
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	Reason     string
}
