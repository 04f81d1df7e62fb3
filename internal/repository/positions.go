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

// UpsertPosition overwrites the persisted view of one symbol. Called by
// the reconciler with broker truth and by the strategy with the
// optimistic post-buy figure.
func (s *Store) UpsertPosition(ctx context.Context, p model.Position) error {
	_, err := s.exec(ctx, `
	INSERT INTO symbols(symbol, quantity, avg_cost, last, status, updated_at)
	VALUES(?,?,?,?,?,?)
	ON CONFLICT(symbol) DO UPDATE SET
		quantity=excluded.quantity,
		avg_cost=excluded.avg_cost,
		last=excluded.last,
		status=excluded.status,
		updated_at=excluded.updated_at`,
		p.Symbol, p.Quantity.String(), p.AvgCost.String(), p.Last.String(),
		string(p.Status), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

// Position returns the persisted position for symbol, or nil when the
// symbol has never been sighted.
func (s *Store) Position(ctx context.Context, symbol string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT symbol, quantity, avg_cost, last, status, updated_at
	FROM symbols WHERE symbol=?`, symbol)

	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position %s: %w", symbol, err)
	}
	return p, nil
}

// PositionsFor loads the persisted positions for the given symbols.
// Symbols without a row are simply absent from the result.
func (s *Store) PositionsFor(ctx context.Context, symbols []string) (map[string]model.Position, error) {
	result := make(map[string]model.Position, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(symbols)), ",")
	args := make([]any, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT symbol, quantity, avg_cost, last, status, updated_at
	FROM symbols WHERE symbol IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		result[p.Symbol] = *p
	}
	return result, rows.Err()
}

// OpenPositions returns every symbol currently held, for display.
func (s *Store) OpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT symbol, quantity, avg_cost, last, status, updated_at
	FROM symbols WHERE status=? ORDER BY symbol ASC`, string(model.PositionOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var (
		p         model.Position
		qty       string
		avgCost   string
		last      string
		status    string
		updatedAt int64
	)
	if err := row.Scan(&p.Symbol, &qty, &avgCost, &last, &status, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("bad quantity for %s: %w", p.Symbol, err)
	}
	if p.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
		return nil, fmt.Errorf("bad avg_cost for %s: %w", p.Symbol, err)
	}
	if p.Last, err = decimal.NewFromString(last); err != nil {
		return nil, fmt.Errorf("bad last for %s: %w", p.Symbol, err)
	}
	p.Status = model.PositionStatus(status)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}
