package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dca-trading-bot/internal/model"

	"github.com/shopspring/decimal"
)

// UpsertOrder inserts or updates an order record keyed by permanent id.
// On conflict only the mutable fields are overwritten: status, fill
// figures and the update timestamp. Identity fields are never touched.
func (s *Store) UpsertOrder(ctx context.Context, o model.OrderSnapshot) error {
	now := time.Now().Unix()
	_, err := s.exec(ctx, `
	INSERT INTO orders (perm_id, order_id, client_order_id, symbol, side, type,
	                    lmt_price, tif, outside_rth, status, filled, remaining,
	                    avg_fill_price, last_fill_price, why_held, created_at, updated_at)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(perm_id) DO UPDATE SET
		status=excluded.status,
		filled=excluded.filled,
		remaining=excluded.remaining,
		avg_fill_price=excluded.avg_fill_price,
		last_fill_price=excluded.last_fill_price,
		why_held=excluded.why_held,
		updated_at=excluded.updated_at`,
		o.PermID, o.OrderID, o.ClientOrderID, o.Symbol, string(o.Side), string(o.Type),
		decimalPtrString(o.LimitPrice), o.TimeInForce, boolToInt(o.OutsideRTH),
		string(o.Status), o.Filled.String(), o.Remaining.String(),
		decimalPtrString(o.AvgFillPrice), decimalPtrString(o.LastFillPrice),
		o.WhyHeld, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert order %d (%s): %w", o.PermID, o.Symbol, err)
	}
	return nil
}

// HasOpenOrder reports whether any order for symbol is in an open status.
func (s *Store) HasOpenOrder(ctx context.Context, symbol string) (bool, error) {
	query := `SELECT 1 FROM orders WHERE symbol=? AND status IN (` + openStatusPlaceholders() + `) LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, openStatusArgs(symbol)...)

	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check open orders for %s: %w", symbol, err)
	}
	return true, nil
}

// OpenOrdersFor returns the locally known open orders for one symbol.
// The strategy's skip guard needs the side of each to tell a standing
// take-profit exit apart from an in-flight entry.
func (s *Store) OpenOrdersFor(ctx context.Context, symbol string) ([]model.OrderSnapshot, error) {
	query := `
	SELECT perm_id, order_id, client_order_id, symbol, side, type, lmt_price, tif,
	       outside_rth, status, filled, remaining, avg_fill_price, last_fill_price, why_held
	FROM orders WHERE symbol=? AND status IN (` + openStatusPlaceholders() + `)`

	rows, err := s.db.QueryContext(ctx, query, openStatusArgs(symbol)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load open orders for %s: %w", symbol, err)
	}
	defer rows.Close()

	var orders []model.OrderSnapshot
	for rows.Next() {
		var (
			o          model.OrderSnapshot
			side, typ  string
			status     string
			lmt        *string
			filled     string
			remaining  string
			avgFill    *string
			lastFill   *string
			outsideRTH int
		)
		if err := rows.Scan(&o.PermID, &o.OrderID, &o.ClientOrderID, &o.Symbol, &side, &typ,
			&lmt, &o.TimeInForce, &outsideRTH, &status, &filled, &remaining,
			&avgFill, &lastFill, &o.WhyHeld); err != nil {
			return nil, err
		}
		o.Side = model.Side(side)
		o.Type = model.OrderType(typ)
		o.Status = model.OrderStatus(status)
		o.OutsideRTH = outsideRTH != 0
		if o.LimitPrice, err = decimalPtrParse(lmt); err != nil {
			return nil, err
		}
		if o.Filled, err = decimal.NewFromString(filled); err != nil {
			return nil, err
		}
		if o.Remaining, err = decimal.NewFromString(remaining); err != nil {
			return nil, err
		}
		if o.AvgFillPrice, err = decimalPtrParse(avgFill); err != nil {
			return nil, err
		}
		if o.LastFillPrice, err = decimalPtrParse(lastFill); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// KillOrdersMissingFrom transitions to Killed every locally-open order
// whose (order id, perm id) pair is absent from the broker's live
// open-order set. Detects orders cancelled, rejected or filled-and-gone
// out-of-band between polling cycles. Returns the number killed.
func (s *Store) KillOrdersMissingFrom(ctx context.Context, openKeys map[model.OrderKey]struct{}) (int64, error) {
	query := `SELECT perm_id, order_id FROM orders WHERE status IN (` + openStatusPlaceholders() + `)`
	rows, err := s.db.QueryContext(ctx, query, openStatusAnyArgs()...)
	if err != nil {
		return 0, fmt.Errorf("failed to scan open orders: %w", err)
	}

	var toKill []any
	for rows.Next() {
		var permID, orderID int64
		if err := rows.Scan(&permID, &orderID); err != nil {
			rows.Close()
			return 0, err
		}
		if _, live := openKeys[model.OrderKey{OrderID: orderID, PermID: permID}]; !live {
			toKill = append(toKill, permID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(toKill) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(toKill)), ",")
	args := append([]any{string(model.StatusKilled), time.Now().Unix()}, toKill...)
	res, err := s.exec(ctx, `UPDATE orders SET status=?, updated_at=? WHERE perm_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to kill stale orders: %w", err)
	}
	return res.RowsAffected()
}

func openStatusPlaceholders() string {
	return strings.TrimRight(strings.Repeat("?,", len(model.OpenStatuses)), ",")
}

func openStatusArgs(symbol string) []any {
	args := []any{symbol}
	for _, st := range model.OpenStatuses {
		args = append(args, string(st))
	}
	return args
}

func openStatusAnyArgs() []any {
	var args []any
	for _, st := range model.OpenStatuses {
		args = append(args, string(st))
	}
	return args
}

func decimalPtrString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalPtrParse(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
