package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dca-trading-bot/internal/broker"
	"dca-trading-bot/internal/logger"
	"dca-trading-bot/internal/metrics"
	"dca-trading-bot/internal/model"
	"dca-trading-bot/internal/repository"

	"github.com/shopspring/decimal"
)

const (
	StateIdle    = "idle"
	StateRunning = "running"
	StatePaused  = "paused"
)

// priceTimeout bounds a single quote fetch so one dead symbol cannot
// stall the whole iteration.
const priceTimeout = 10 * time.Second

// Engine owns the trading loop: reconcile, quote, evaluate, act, sleep.
// Start, Pause, Stop and Restart are safe to call from any goroutine;
// the chat surface drives them directly.
type Engine struct {
	store      *repository.Store
	brokerConn broker.Broker
	reconciler *Reconciler
	tracker    *metrics.Tracker
	notifier   Notifier

	running atomic.Bool
	paused  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// seed is the profile built from the environment, used until a row
	// exists in trade_params.
	seed        model.Profile
	stopTimeout time.Duration
}

func NewEngine(store *repository.Store, b broker.Broker, seed model.Profile, stopTimeout time.Duration) *Engine {
	return &Engine{
		store:       store,
		brokerConn:  b,
		reconciler:  NewReconciler(store, b),
		tracker:     metrics.NewTracker(),
		notifier:    NopNotifier{},
		seed:        seed,
		stopTimeout: stopTimeout,
	}
}

// SetNotifier wires the chat surface in after construction; the surface
// itself needs a reference to the engine, so the two cannot be built in
// one shot.
func (e *Engine) SetNotifier(n Notifier) {
	if n != nil {
		e.notifier = n
	}
}

func (e *Engine) Metrics() metrics.Snapshot {
	return e.tracker.Snapshot()
}

// ActiveProfile is the profile the next iteration will trade with.
func (e *Engine) ActiveProfile(ctx context.Context) model.Profile {
	return e.loadProfile(ctx)
}

// Start launches the loop, or resumes it when paused. Calling Start on
// an already running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		if e.paused.Load() {
			e.paused.Store(false)
			logger.Info("▶️ Trading loop resumed")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running.Store(true)
	e.paused.Store(false)

	go e.run(ctx, e.done)
}

// Pause keeps the loop alive but skips iterations until Start is called
// again. The broker connection stays up.
func (e *Engine) Pause() {
	if e.running.Load() {
		e.paused.Store(true)
		logger.Info("⏸️ Trading loop paused")
	}
}

// Stop shuts the loop down: the run flag drops, the loop context is
// cancelled and the call waits (bounded) for the goroutine to drain.
// The broker connection is closed by the exiting loop, so a later Start
// connects fresh.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel == nil {
		return
	}

	e.running.Store(false)
	e.paused.Store(false)
	e.cancel()

	select {
	case <-e.done:
	case <-time.After(e.stopTimeout):
		logger.Warn("Trading loop did not stop within timeout")
	}

	e.cancel = nil
	e.done = nil
	logger.Info("⏹️ Trading loop stopped")
}

func (e *Engine) Restart() {
	e.Stop()
	e.Start()
}

func (e *Engine) State() string {
	if !e.running.Load() {
		return StateIdle
	}
	if e.paused.Load() {
		return StatePaused
	}
	return StateRunning
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := e.brokerConn.Close(); err != nil {
			logger.Error("Failed to close broker connection", "error", err)
		}
	}()

	logger.Info("🚀 Trading loop started")

	for e.running.Load() {
		if e.paused.Load() {
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		start := time.Now()
		profile := e.loadProfile(ctx)
		e.iterate(ctx, profile)
		e.tracker.TrackIteration(time.Since(start))

		if !sleepCtx(ctx, profile.PollInterval) {
			return
		}
	}
}

// loadProfile reads the active trade parameter profile, falling back to
// the environment seed. Read every iteration so chat edits apply on the
// next cycle without a restart.
func (e *Engine) loadProfile(ctx context.Context) model.Profile {
	p, err := e.store.TradeParams(ctx)
	if err != nil {
		logger.Error("Failed to load trade params, using defaults", "error", err)
		return e.seed
	}
	if p == nil {
		return e.seed
	}
	return *p
}

func (e *Engine) iterate(ctx context.Context, profile model.Profile) {
	active := e.reconciler.Run(ctx)

	watchlist, err := e.store.Whitelist(ctx)
	if err != nil {
		logger.Error("Failed to load whitelist", "error", err)
	}

	for _, symbol := range union(watchlist, active) {
		if ctx.Err() != nil {
			return
		}
		e.processSymbol(ctx, symbol, profile)
	}
}

// processSymbol runs the quote-evaluate-act sequence for one symbol.
// Every failure is local: log, move on to the next symbol.
func (e *Engine) processSymbol(ctx context.Context, symbol string, profile model.Profile) {
	quoteCtx, cancel := context.WithTimeout(ctx, priceTimeout)
	last, err := e.brokerConn.LastPrice(quoteCtx, symbol)
	cancel()
	if err != nil {
		if errors.Is(err, broker.ErrNoQuote) {
			logger.Debug("No quote this cycle", "symbol", symbol)
		} else {
			logger.Error("Failed to fetch price", "symbol", symbol, "error", err)
		}
		return
	}

	pos, err := e.store.Position(ctx, symbol)
	if err != nil {
		logger.Error("Failed to load position", "symbol", symbol, "error", err)
		return
	}
	if pos == nil {
		// First sighting: persist a flat row so the symbol shows up in
		// displays immediately.
		pos = &model.Position{
			Symbol:   symbol,
			Quantity: decimal.Zero,
			AvgCost:  decimal.Zero,
			Status:   model.PositionFlat,
		}
	}
	pos.Last = last
	if err := e.store.UpsertPosition(ctx, *pos); err != nil {
		logger.Error("Failed to persist position", "symbol", symbol, "error", err)
		return
	}

	open, err := e.store.OpenOrdersFor(ctx, symbol)
	if err != nil {
		logger.Error("Failed to load open orders", "symbol", symbol, "error", err)
		return
	}

	action := Evaluate(*pos, last, profile, open)
	if action.Type == model.ActionNone {
		if action.Reason != "" {
			logger.Debug("No action", "symbol", symbol, "reason", action.Reason)
		}
		return
	}

	e.apply(ctx, *pos, last, profile, action)
}

func (e *Engine) apply(ctx context.Context, pos model.Position, last decimal.Decimal, profile model.Profile, action model.Action) {
	side := model.SideBuy
	if action.Type == model.ActionSell || action.Type == model.ActionMaintainExit {
		side = model.SideSell
	}

	limit := action.LimitPrice
	req := broker.OrderRequest{
		Symbol:      pos.Symbol,
		Side:        side,
		Type:        model.OrderTypeLimit,
		Quantity:    action.Quantity,
		LimitPrice:  &limit,
		TimeInForce: "GTC",
		OutsideRTH:  profile.OutsideRTH,
	}

	snap, err := e.brokerConn.PlaceOrder(ctx, req)
	if err != nil {
		logger.Error("Order placement failed",
			"symbol", pos.Symbol, "side", side, "qty", action.Quantity, "error", err)
		return
	}
	e.tracker.TrackOrder()

	if err := e.store.UpsertOrder(ctx, snap); err != nil {
		logger.Error("Failed to persist placed order", "symbol", pos.Symbol, "error", err)
	}

	logger.Info("💸 Order placed",
		"symbol", pos.Symbol,
		"side", side,
		"qty", action.Quantity.String(),
		"limit", limit.String(),
		"reason", action.Reason,
	)
	e.notify(fmt.Sprintf("%s %s %s @ %s (%s)",
		side, action.Quantity, pos.Symbol, limit, action.Reason))

	// Averaging buys update the cost basis optimistically with the
	// requested quantity; the next reconciliation replaces the figure
	// with broker truth.
	if action.Type == model.ActionBuy && pos.Quantity.IsPositive() {
		pos.AvgCost = NewAverageCost(pos.AvgCost, pos.Quantity, last, action.Quantity)
		pos.Quantity = pos.Quantity.Add(action.Quantity)
		pos.Status = model.PositionOpen
		if err := e.store.UpsertPosition(ctx, pos); err != nil {
			logger.Error("Failed to persist optimistic position", "symbol", pos.Symbol, "error", err)
		}
	}
}

// ApplyOrderUpdate folds a live order-status event from the user data
// stream into the store, between polling cycles.
func (e *Engine) ApplyOrderUpdate(ctx context.Context, snap model.OrderSnapshot) {
	if err := e.store.UpsertOrder(ctx, snap); err != nil {
		logger.Error("Failed to persist stream order update", "symbol", snap.Symbol, "error", err)
		return
	}
	if snap.Status == model.StatusFilled {
		logger.Info("💰 Order filled", "symbol", snap.Symbol, "side", snap.Side, "filled", snap.Filled.String())
		e.notify(fmt.Sprintf("Filled: %s %s %s", snap.Side, snap.Filled, snap.Symbol))
	}
}

func (e *Engine) notify(text string) {
	if err := e.notifier.Deliver(text); err != nil {
		logger.Error("Failed to deliver notification", "error", err)
	}
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns
// false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
