package core

import (
	"context"
	"sort"

	"dca-trading-bot/internal/broker"
	"dca-trading-bot/internal/logger"
	"dca-trading-bot/internal/model"
	"dca-trading-bot/internal/repository"
)

// Reconciler pulls broker truth into the store at the top of every
// iteration: positions overwrite the local rows, live open orders are
// upserted, and locally-open orders the broker no longer reports are
// marked Killed. Running it twice against the same broker state is a
// no-op, so a crashed iteration costs nothing.
type Reconciler struct {
	store  *repository.Store
	broker broker.Broker
	active map[string]struct{}
}

func NewReconciler(store *repository.Store, b broker.Broker) *Reconciler {
	return &Reconciler{
		store:  store,
		broker: b,
		active: make(map[string]struct{}),
	}
}

// Run performs one reconciliation pass and returns the symbols the
// broker currently reports as held. Connectivity failures are logged and
// the previous active set is returned, so the loop keeps watching the
// symbols it already knows about.
func (r *Reconciler) Run(ctx context.Context) []string {
	if err := r.broker.Connect(ctx); err != nil {
		logger.Warn("Broker unreachable, keeping last known state", "error", err)
		return r.activeSymbols()
	}

	if positions, err := r.broker.Positions(ctx); err != nil {
		logger.Error("Failed to fetch broker positions", "error", err)
	} else {
		r.syncPositions(ctx, positions)
	}

	if orders, err := r.broker.OpenOrders(ctx); err != nil {
		logger.Error("Failed to fetch broker open orders", "error", err)
	} else {
		r.syncOrders(ctx, orders)
	}

	return r.activeSymbols()
}

func (r *Reconciler) syncPositions(ctx context.Context, positions []model.BrokerPosition) {
	seen := make(map[string]struct{}, len(positions))

	for _, bp := range positions {
		seen[bp.Symbol] = struct{}{}

		status := model.PositionOpen
		if bp.Quantity.IsZero() {
			status = model.PositionFlat
		}

		// The broker snapshot carries no market price; keep the last one
		// the loop recorded.
		pos := model.Position{
			Symbol:   bp.Symbol,
			Quantity: bp.Quantity,
			AvgCost:  bp.AvgCost,
			Status:   status,
		}
		if prior, err := r.store.Position(ctx, bp.Symbol); err != nil {
			logger.Error("Failed to load position", "symbol", bp.Symbol, "error", err)
			continue
		} else if prior != nil {
			pos.Last = prior.Last
		}

		if err := r.store.UpsertPosition(ctx, pos); err != nil {
			logger.Error("Failed to persist position", "symbol", bp.Symbol, "error", err)
			continue
		}

		if status == model.PositionOpen {
			r.active[bp.Symbol] = struct{}{}
		} else {
			delete(r.active, bp.Symbol)
		}
	}

	// A symbol the broker stopped reporting entirely is flat.
	for symbol := range r.active {
		if _, ok := seen[symbol]; !ok {
			delete(r.active, symbol)
		}
	}
}

func (r *Reconciler) syncOrders(ctx context.Context, orders []model.OrderSnapshot) {
	live := make(map[model.OrderKey]struct{}, len(orders))
	for _, o := range orders {
		live[o.Key()] = struct{}{}
		if err := r.store.UpsertOrder(ctx, o); err != nil {
			logger.Error("Failed to persist order", "symbol", o.Symbol, "perm_id", o.PermID, "error", err)
		}
	}

	killed, err := r.store.KillOrdersMissingFrom(ctx, live)
	if err != nil {
		logger.Error("Kill sweep failed", "error", err)
		return
	}
	if killed > 0 {
		logger.Info("Killed stale local orders", "count", killed)
	}
}

func (r *Reconciler) activeSymbols() []string {
	symbols := make([]string, 0, len(r.active))
	for s := range r.active {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
