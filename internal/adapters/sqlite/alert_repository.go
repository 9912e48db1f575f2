package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

const alertColumns = `
	id, timestamp, discord_id, trade, content, trader, parsed_alert,
	status, status_detail, binance_response, created_at, updated_at`

// CreateAlert saves a new alert row and returns its assigned ID.
func (r *Repository) CreateAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	const query = `
	INSERT INTO alerts (timestamp, discord_id, trade, content, trader, parsed_alert,
		status, status_detail, binance_response, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	alert.CreatedAt = now
	alert.UpdatedAt = now
	if alert.Status == "" {
		alert.Status = domain.AlertReceived
	}

	result, err := r.db.ExecContext(ctx, query,
		alert.Timestamp.UnixMilli(), alert.DiscordID, alert.ParentDiscordID, alert.Content,
		alert.Trader, alert.ParsedAction, alert.Status, alert.StatusDetail,
		nullBlob(alert.BinanceResponse), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert %s: %w", alert.DiscordID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for alert %s: %w", alert.DiscordID, err)
	}
	alert.ID = id
	r.logger.Debug(ctx, "Alert created", map[string]interface{}{"alertID": id, "trade": alert.ParentDiscordID})
	return id, nil
}

// UpdateAlert modifies an existing alert row.
func (r *Repository) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	const query = `
	UPDATE alerts SET parsed_alert = ?, status = ?, status_detail = ?,
		binance_response = ?, updated_at = ?
	WHERE id = ?`

	alert.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		alert.ParsedAction, alert.Status, alert.StatusDetail,
		nullBlob(alert.BinanceResponse), alert.UpdatedAt.UnixMilli(), alert.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert ID %d: %w", alert.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert ID %d not found for update", alert.ID)
	}
	return nil
}

// FindAlertByDiscordID retrieves an alert by its external id.
func (r *Repository) FindAlertByDiscordID(ctx context.Context, discordID string) (*domain.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE discord_id = ?`, discordID)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query alert by discord ID %s: %w", discordID, err)
	}
	return alert, nil
}

func scanAlert(s scanner) (*domain.Alert, error) {
	a := &domain.Alert{}
	var ts, createdAt, updatedAt int64
	var action, status string
	var resp []byte
	err := s.Scan(&a.ID, &ts, &a.DiscordID, &a.ParentDiscordID, &a.Content, &a.Trader,
		&action, &status, &a.StatusDetail, &resp, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Timestamp = time.UnixMilli(ts).UTC()
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	a.ParsedAction = domain.AlertAction(action)
	a.Status = domain.AlertStatus(status)
	a.BinanceResponse = resp
	return a, nil
}
