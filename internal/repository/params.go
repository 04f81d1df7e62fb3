package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dca-trading-bot/internal/model"

	"github.com/shopspring/decimal"
)

// TradeParams returns the most recently created trade parameter profile,
// or nil when none has been persisted yet (callers fall back to their
// seed defaults). Read at the top of every loop iteration so edits take
// effect without restarting the engine.
func (s *Store) TradeParams(ctx context.Context) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT base_qty, averaging_trigger_pct, averaging_multiplier, take_profit_pct,
	       poll_interval_sec, outside_rth, whole_units, maintain_exit, aux_json
	FROM trade_params ORDER BY id DESC LIMIT 1`)

	var (
		baseQty, trigger, mult, tp           string
		pollSec                              int
		outsideRTH, wholeUnits, maintainExit int
		auxJSON                              string
	)
	err := row.Scan(&baseQty, &trigger, &mult, &tp, &pollSec, &outsideRTH, &wholeUnits, &maintainExit, &auxJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade params: %w", err)
	}

	p := &model.Profile{
		PollInterval: time.Duration(pollSec) * time.Second,
		OutsideRTH:   outsideRTH != 0,
		WholeUnits:   wholeUnits != 0,
		MaintainExit: maintainExit != 0,
	}
	if p.BaseQty, err = decimal.NewFromString(baseQty); err != nil {
		return nil, fmt.Errorf("bad base_qty: %w", err)
	}
	if p.AveragingTriggerPct, err = decimal.NewFromString(trigger); err != nil {
		return nil, fmt.Errorf("bad averaging_trigger_pct: %w", err)
	}
	if p.AveragingMultiplier, err = decimal.NewFromString(mult); err != nil {
		return nil, fmt.Errorf("bad averaging_multiplier: %w", err)
	}
	if p.TakeProfitPct, err = decimal.NewFromString(tp); err != nil {
		return nil, fmt.Errorf("bad take_profit_pct: %w", err)
	}

	// Auxiliary toggles are pass-through configuration the core does not
	// act on; keep them opaque.
	if auxJSON != "" {
		if err := json.Unmarshal([]byte(auxJSON), &p.Aux); err != nil {
			return nil, fmt.Errorf("bad aux_json: %w", err)
		}
	}
	return p, nil
}

// SaveTradeParams appends a new profile row, which becomes the active
// one. Used to seed the first profile from the environment and by the
// chat surface when parameters are edited.
func (s *Store) SaveTradeParams(ctx context.Context, p model.Profile) error {
	auxJSON := "{}"
	if len(p.Aux) > 0 {
		raw, err := json.Marshal(p.Aux)
		if err != nil {
			return fmt.Errorf("failed to encode aux toggles: %w", err)
		}
		auxJSON = string(raw)
	}

	_, err := s.exec(ctx, `
	INSERT INTO trade_params(base_qty, averaging_trigger_pct, averaging_multiplier,
	                         take_profit_pct, poll_interval_sec, outside_rth,
	                         whole_units, maintain_exit, aux_json, created_at)
	VALUES(?,?,?,?,?,?,?,?,?,?)`,
		p.BaseQty.String(), p.AveragingTriggerPct.String(), p.AveragingMultiplier.String(),
		p.TakeProfitPct.String(), int(p.PollInterval.Seconds()),
		boolToInt(p.OutsideRTH), boolToInt(p.WholeUnits), boolToInt(p.MaintainExit),
		auxJSON, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save trade params: %w", err)
	}
	return nil
}
