package repository

import (
	"context"
	"fmt"
)

// Whitelist returns the tickers the loop should consider even when the
// broker holds no position in them. Ordered, duplicate-free.
func (s *Store) Whitelist(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pair FROM white_list ORDER BY pair ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load whitelist: %w", err)
	}
	defer rows.Close()

	var pairs []string
	for rows.Next() {
		var pair string
		if err := rows.Scan(&pair); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// AddPairs inserts tickers into the whitelist, skipping ones already
// present. Returns how many were added and how many already existed.
func (s *Store) AddPairs(ctx context.Context, pairs []string) (added, existed int, err error) {
	for _, pair := range pairs {
		res, err := s.exec(ctx, `INSERT OR IGNORE INTO white_list(pair) VALUES(?)`, pair)
		if err != nil {
			return added, existed, fmt.Errorf("failed to add %s to whitelist: %w", pair, err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			added++
		} else {
			existed++
		}
	}
	return added, existed, nil
}

// RemovePairs deletes tickers from the whitelist and returns how many
// rows were actually removed.
func (s *Store) RemovePairs(ctx context.Context, pairs []string) (int, error) {
	var removed int
	for _, pair := range pairs {
		res, err := s.exec(ctx, `DELETE FROM white_list WHERE pair=?`, pair)
		if err != nil {
			return removed, fmt.Errorf("failed to remove %s from whitelist: %w", pair, err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}
