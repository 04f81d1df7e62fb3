package core

import (
	"fmt"

	"dca-trading-bot/internal/model"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// Initial entries are priced a sliver under the market so the order
	// rests as a maker instead of crossing the spread.
	entryDiscount = decimal.NewFromFloat(0.001)
)

// Evaluate decides what, if anything, to do for one symbol this cycle.
// It is a pure function of the persisted position, the fresh last price,
// the active parameter profile and the locally known open orders, so the
// whole decision table is testable without a venue.
//
// The single-open-order rule: an in-flight BUY blocks everything, and a
// second exit is never placed while one is working. A standing take-profit
// SELL is the one order that does not block new averaging buys.
func Evaluate(pos model.Position, last decimal.Decimal, profile model.Profile, openOrders []model.OrderSnapshot) model.Action {
	var openBuy, openSell bool
	for _, o := range openOrders {
		switch o.Side {
		case model.SideBuy:
			openBuy = true
		case model.SideSell:
			openSell = true
		}
	}

	if openBuy {
		return model.Action{Type: model.ActionNone, Reason: "entry order in flight"}
	}
	if !last.IsPositive() {
		return model.Action{Type: model.ActionNone, Reason: "no usable price"}
	}

	if !pos.Quantity.IsPositive() {
		price := last.Mul(decimal.NewFromInt(1).Sub(entryDiscount)).Round(2)
		return model.Action{
			Type:       model.ActionBuy,
			Quantity:   profile.BaseQty,
			LimitPrice: price,
			Reason:     "initial entry",
		}
	}

	if !pos.AvgCost.IsPositive() {
		// Held quantity with no cost basis means the broker snapshot is
		// incomplete; do nothing until reconciliation fills it in.
		return model.Action{Type: model.ActionNone, Reason: "no cost basis"}
	}

	// Averaging down: drop from cost basis, in percent, inclusive at the
	// trigger boundary.
	drop := pos.AvgCost.Sub(last).Div(pos.AvgCost).Mul(hundred)
	if drop.GreaterThanOrEqual(profile.AveragingTriggerPct) {
		return model.Action{
			Type:       model.ActionBuy,
			Quantity:   profile.BaseQty.Mul(profile.AveragingMultiplier),
			LimitPrice: last.Round(2),
			Reason:     fmt.Sprintf("averaging down %s%% below cost", drop.Round(2)),
		}
	}

	target := pos.AvgCost.Mul(hundred.Add(profile.TakeProfitPct)).Div(hundred)
	if last.GreaterThanOrEqual(target) {
		if openSell {
			return model.Action{Type: model.ActionNone, Reason: "exit already working"}
		}
		qty := sellQuantity(pos, profile)
		if !qty.IsPositive() {
			return model.Action{Type: model.ActionNone, Reason: "sell size rounds to zero"}
		}
		return model.Action{
			Type:       model.ActionSell,
			Quantity:   qty,
			LimitPrice: last.Round(2),
			Reason:     "take profit",
		}
	}

	if profile.MaintainExit && !openSell {
		qty := sellQuantity(pos, profile)
		if qty.IsPositive() {
			return model.Action{
				Type:       model.ActionMaintainExit,
				Quantity:   qty,
				LimitPrice: target.Round(2),
				Reason:     "standing exit",
			}
		}
	}

	return model.Action{Type: model.ActionNone}
}

// sellQuantity sizes an exit: at most one base lot, never more than is
// held, floored to whole units unless the instrument trades fractions.
func sellQuantity(pos model.Position, profile model.Profile) decimal.Decimal {
	qty := decimal.Min(profile.BaseQty, pos.Quantity)
	if profile.WholeUnits {
		qty = qty.Floor()
	}
	return qty
}

// NewAverageCost is the optimistic cost-basis recompute applied right
// after an averaging buy is submitted, before the broker confirms the
// fill. The next reconciliation overwrites it with broker truth.
func NewAverageCost(avgCost, qty, last, buyQty decimal.Decimal) decimal.Decimal {
	total := qty.Add(buyQty)
	if !total.IsPositive() {
		return avgCost
	}
	return avgCost.Mul(qty).Add(last.Mul(buyQty)).Div(total)
}
