package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

const tradeColumns = `
	id, discord_id, timestamp, trader, coin_symbol, parsed_signal, signal_type,
	position_type, entry_prices, stop_loss, take_profits, order_type, quantity_multiplier,
	status, entry_price, binance_entry_price, exit_price, position_size, exchange_order_id,
	original_order_response, binance_response, order_status_response, tp_sl_orders,
	pnl_usd, sync_error_count, sync_issues, manual_verification_needed,
	created_at, closed_at, updated_at, merged_into_trade_id, merge_reason, merged_at`

// Create saves a new trade row and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (discord_id, timestamp, trader, coin_symbol, parsed_signal, signal_type,
		position_type, entry_prices, stop_loss, take_profits, order_type, quantity_multiplier,
		status, entry_price, binance_entry_price, exit_price, position_size, exchange_order_id,
		original_order_response, binance_response, order_status_response, tp_sl_orders,
		pnl_usd, sync_error_count, sync_issues, manual_verification_needed,
		created_at, closed_at, updated_at, merged_into_trade_id, merge_reason, merged_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if trade.Status == "" {
		trade.Status = domain.StatusPending
	}
	trade.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, query,
		trade.DiscordID, trade.Timestamp.UnixMilli(), trade.Trader, trade.CoinSymbol,
		nullBlob(trade.ParsedSignal), trade.SignalType,
		trade.PositionType, marshalJSON(trade.EntryPrices), nullFloat(trade.StopLoss),
		marshalJSON(trade.TakeProfits), trade.OrderType, trade.QuantityMultiplier,
		trade.Status, trade.EntryPrice, trade.BinanceEntryPrice, trade.ExitPrice,
		trade.PositionSize, trade.ExchangeOrderID,
		nullBlob(trade.OriginalOrderResponse), nullBlob(trade.BinanceResponse), nullBlob(trade.OrderStatusResponse),
		marshalJSON(trade.TPSLOrders), nullFloat(trade.PnlUSD), trade.SyncErrorCount,
		marshalJSON(trade.SyncIssues), trade.ManualVerification,
		nullMillis(trade.CreatedAt), nullMillis(trade.ClosedAt), trade.UpdatedAt.UnixMilli(),
		nullInt(trade.MergedIntoTradeID), trade.MergeReason, nullMillis(trade.MergedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for %s: %w", trade.CoinSymbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.CoinSymbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "symbol": trade.CoinSymbol, "discordID": trade.DiscordID})
	return id, nil
}

// Update modifies an existing trade row.
//
// The write-once columns (created_at, closed_at, original_order_response)
// are guarded with compare-and-swap semantics: writes land only when the
// stored value is null. An attempt to overwrite a stored value with a
// different one refuses the whole update with ErrWriteOnce and flags the
// row for manual verification. Status changes must follow the lifecycle;
// an illegal transition is likewise refused.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin trade update: %w", err)
	}
	defer tx.Rollback()

	var (
		curStatus    string
		curCreatedAt sql.NullInt64
		curClosedAt  sql.NullInt64
		curOriginal  []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, created_at, closed_at, original_order_response FROM trades WHERE id = ?`,
		trade.ID).Scan(&curStatus, &curCreatedAt, &curClosedAt, &curOriginal)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read trade ID %d for update: %w", trade.ID, err)
	}

	if !domain.CanTransition(domain.TradeStatus(curStatus), trade.Status) {
		if vErr := r.flagManualVerification(ctx, tx, trade.ID,
			fmt.Sprintf("illegal status transition %s -> %s", curStatus, trade.Status)); vErr != nil {
			return vErr
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit verification flag for trade ID %d: %w", trade.ID, err)
		}
		return fmt.Errorf("illegal transition %s -> %s for trade ID %d: %w", curStatus, trade.Status, trade.ID, ports.ErrUpdateFailed)
	}

	// closed_at may only accompany a CLOSED status.
	if trade.ClosedAt != nil && trade.Status != domain.StatusClosed {
		return fmt.Errorf("closed_at set while status is %s for trade ID %d: %w", trade.Status, trade.ID, ports.ErrUpdateFailed)
	}

	violation := ""
	switch {
	case curCreatedAt.Valid && trade.CreatedAt != nil && trade.CreatedAt.UnixMilli() != curCreatedAt.Int64:
		violation = "created_at overwrite attempt"
	case curClosedAt.Valid && trade.ClosedAt != nil && trade.ClosedAt.UnixMilli() != curClosedAt.Int64:
		violation = "closed_at overwrite attempt"
	case len(curOriginal) > 0 && len(trade.OriginalOrderResponse) > 0 && string(curOriginal) != string(trade.OriginalOrderResponse):
		violation = "original_order_response overwrite attempt"
	}
	if violation != "" {
		if vErr := r.flagManualVerification(ctx, tx, trade.ID, violation); vErr != nil {
			return vErr
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit verification flag for trade ID %d: %w", trade.ID, err)
		}
		return fmt.Errorf("%s on trade ID %d: %w", violation, trade.ID, ports.ErrWriteOnce)
	}

	const query = `
	UPDATE trades SET
		trader = ?, coin_symbol = ?, parsed_signal = ?, signal_type = ?,
		position_type = ?, entry_prices = ?, stop_loss = ?, take_profits = ?,
		order_type = ?, quantity_multiplier = ?, status = ?,
		entry_price = ?, binance_entry_price = ?, exit_price = ?, position_size = ?,
		exchange_order_id = ?,
		original_order_response = COALESCE(original_order_response, ?),
		binance_response = ?, order_status_response = ?, tp_sl_orders = ?,
		pnl_usd = ?, sync_error_count = ?, sync_issues = ?, manual_verification_needed = ?,
		created_at = COALESCE(created_at, ?),
		closed_at = COALESCE(closed_at, ?),
		updated_at = ?,
		merged_into_trade_id = ?, merge_reason = ?, merged_at = ?
	WHERE id = ?`

	trade.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, query,
		trade.Trader, trade.CoinSymbol, nullBlob(trade.ParsedSignal), trade.SignalType,
		trade.PositionType, marshalJSON(trade.EntryPrices), nullFloat(trade.StopLoss),
		marshalJSON(trade.TakeProfits), trade.OrderType, trade.QuantityMultiplier, trade.Status,
		trade.EntryPrice, trade.BinanceEntryPrice, trade.ExitPrice, trade.PositionSize,
		trade.ExchangeOrderID,
		nullBlob(trade.OriginalOrderResponse),
		nullBlob(trade.BinanceResponse), nullBlob(trade.OrderStatusResponse), marshalJSON(trade.TPSLOrders),
		nullFloat(trade.PnlUSD), trade.SyncErrorCount, marshalJSON(trade.SyncIssues), trade.ManualVerification,
		nullMillis(trade.CreatedAt), nullMillis(trade.ClosedAt), trade.UpdatedAt.UnixMilli(),
		nullInt(trade.MergedIntoTradeID), trade.MergeReason, nullMillis(trade.MergedAt),
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", trade.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade update ID %d: %w", trade.ID, err)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.CoinSymbol, "status": trade.Status})
	return nil
}

// flagManualVerification records an invariant violation on the row without
// touching anything else.
func (r *Repository) flagManualVerification(ctx context.Context, tx *sql.Tx, id int64, issue string) error {
	var issuesJSON string
	if err := tx.QueryRowContext(ctx, `SELECT sync_issues FROM trades WHERE id = ?`, id).Scan(&issuesJSON); err != nil {
		return fmt.Errorf("failed to read sync issues for trade ID %d: %w", id, err)
	}
	var issues []string
	_ = json.Unmarshal([]byte(issuesJSON), &issues)
	issues = append(issues, issue)

	_, err := tx.ExecContext(ctx,
		`UPDATE trades SET manual_verification_needed = 1, sync_issues = ?, updated_at = ? WHERE id = ?`,
		marshalJSON(issues), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to flag trade ID %d for manual verification: %w", id, err)
	}
	r.logger.Warn(ctx, "Trade flagged for manual verification", map[string]interface{}{"tradeID": id, "issue": issue})
	return nil
}

// FindByID retrieves a trade by its row id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, err)
	}
	return trade, nil
}

// FindByDiscordID retrieves a trade by its external unique id.
func (r *Repository) FindByDiscordID(ctx context.Context, discordID string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE discord_id = ?`, discordID)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by discord ID %s: %w", discordID, err)
	}
	return trade, nil
}

// FindByTimestamp retrieves the trade whose signal timestamp falls within
// [ts, ts+1ms).
func (r *Repository) FindByTimestamp(ctx context.Context, ts time.Time) (*domain.Trade, error) {
	ms := ts.UnixMilli()
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE timestamp >= ? AND timestamp < ? ORDER BY id LIMIT 1`,
		ms, ms+1)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by timestamp %d: %w", ms, err)
	}
	return trade, nil
}

// FindByExchangeOrderID retrieves the trade bound to a venue order id. When
// no row carries the id directly, the stored venue payloads are scanned as
// a fallback.
func (r *Repository) FindByExchangeOrderID(ctx context.Context, orderID string) (*domain.Trade, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE exchange_order_id = ? ORDER BY id DESC LIMIT 1`, orderID)
	trade, err := scanTrade(row)
	if err == nil {
		return trade, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query trade by order ID %s: %w", orderID, err)
	}

	// Fallback: the id may only exist inside the recorded venue response.
	pattern := `%"orderId":` + orderID + `%`
	row = r.db.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE binance_response LIKE ? OR original_order_response LIKE ? ORDER BY id DESC LIMIT 1`,
		pattern, pattern)
	trade, err = scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan venue payloads for order ID %s: %w", orderID, err)
	}
	return trade, nil
}

// FindActiveBySymbol retrieves trades with live exposure for a coin symbol.
func (r *Repository) FindActiveBySymbol(ctx context.Context, coinSymbol string) ([]*domain.Trade, error) {
	return r.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE coin_symbol = ? AND status IN (?, ?) ORDER BY id`,
		coinSymbol, domain.StatusOpen, domain.StatusPartiallyClosed)
}

// FindActive retrieves all trades with live exposure.
func (r *Repository) FindActive(ctx context.Context) ([]*domain.Trade, error) {
	return r.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status IN (?, ?) ORDER BY id`,
		domain.StatusOpen, domain.StatusPartiallyClosed)
}

// FindActiveYoungerThan retrieves live trades created within maxAge.
func (r *Repository) FindActiveYoungerThan(ctx context.Context, maxAge time.Duration) ([]*domain.Trade, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	return r.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status IN (?, ?) AND COALESCE(created_at, timestamp) >= ? ORDER BY id`,
		domain.StatusOpen, domain.StatusPartiallyClosed, cutoff)
}

// FindClosedMissingPnl retrieves CLOSED trades lacking pnl or exit price.
func (r *Repository) FindClosedMissingPnl(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return r.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = ? AND (pnl_usd IS NULL OR exit_price = 0) ORDER BY id LIMIT ?`,
		domain.StatusClosed, limit)
}

// LastAttemptBefore returns the most recent signal timestamp for a coin
// symbol strictly before the given instant.
func (r *Repository) LastAttemptBefore(ctx context.Context, coinSymbol string, before time.Time) (time.Time, error) {
	var ms sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM trades WHERE coin_symbol = ? AND timestamp < ?`,
		coinSymbol, before.UnixMilli()).Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last attempt for %s: %w", coinSymbol, err)
	}
	if !ms.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms.Int64).UTC(), nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var (
		ts, updatedAt                  int64
		createdAt, closedAt, mergedAt  sql.NullInt64
		mergedInto                     sql.NullInt64
		stopLoss, pnl                  sql.NullFloat64
		entryPrices, takeProfits       string
		tpslOrders, syncIssues         string
		parsedSignal, original         []byte
		binanceResp, statusResp        []byte
		positionType, orderType, state string
	)
	err := s.Scan(
		&t.ID, &t.DiscordID, &ts, &t.Trader, &t.CoinSymbol, &parsedSignal, &t.SignalType,
		&positionType, &entryPrices, &stopLoss, &takeProfits, &orderType, &t.QuantityMultiplier,
		&state, &t.EntryPrice, &t.BinanceEntryPrice, &t.ExitPrice, &t.PositionSize, &t.ExchangeOrderID,
		&original, &binanceResp, &statusResp, &tpslOrders,
		&pnl, &t.SyncErrorCount, &syncIssues, &t.ManualVerification,
		&createdAt, &closedAt, &updatedAt, &mergedInto, &t.MergeReason, &mergedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	t.Timestamp = time.UnixMilli(ts).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	t.CreatedAt = millisPtr(createdAt)
	t.ClosedAt = millisPtr(closedAt)
	t.MergedAt = millisPtr(mergedAt)
	t.MergedIntoTradeID = intPtr(mergedInto)
	t.StopLoss = floatPtr(stopLoss)
	t.PnlUSD = floatPtr(pnl)
	t.PositionType = domain.PositionType(positionType)
	t.OrderType = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(state)
	t.ParsedSignal = parsedSignal
	t.OriginalOrderResponse = original
	t.BinanceResponse = binanceResp
	t.OrderStatusResponse = statusResp
	_ = json.Unmarshal([]byte(entryPrices), &t.EntryPrices)
	_ = json.Unmarshal([]byte(takeProfits), &t.TakeProfits)
	_ = json.Unmarshal([]byte(tpslOrders), &t.TPSLOrders)
	_ = json.Unmarshal([]byte(syncIssues), &t.SyncIssues)
	return t, nil
}
