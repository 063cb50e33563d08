package store

import (
	"context"
	"database/sql"
	"fmt"

	"kisan-backend/internal/domain"
)

// SaveAlerts stores generated crop alerts for userID
func (s *Store) SaveAlerts(ctx context.Context, userID int64, alerts []domain.CropAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range alerts {
			a := &alerts[i]
			a.UserID = userID
			if a.CreatedAt.IsZero() {
				a.CreatedAt = s.now()
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO weather_alerts (user_id, crop, hazard, level, message, advice, location, acknowledged, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.UserID, a.Crop, a.Hazard, a.Level, a.Message, a.Advice, a.Location, a.Acknowledged, a.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
			a.ID, _ = res.LastInsertId()
		}
		return nil
	})
}

// ListAlerts returns userID's alerts, newest first
func (s *Store) ListAlerts(ctx context.Context, userID int64, unacknowledgedOnly bool, limit int) ([]domain.CropAlert, error) {
	if limit <= 0 || limit > domain.MaxPageSize {
		limit = domain.DefaultPageSize
	}
	query := `SELECT id, user_id, crop, hazard, level, message, advice, location, acknowledged, created_at
		FROM weather_alerts WHERE user_id = ?`
	if unacknowledgedOnly {
		query += ` AND acknowledged = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []domain.CropAlert{}
	for rows.Next() {
		var a domain.CropAlert
		if err := rows.Scan(&a.ID, &a.UserID, &a.Crop, &a.Hazard, &a.Level, &a.Message, &a.Advice,
			&a.Location, &a.Acknowledged, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks one of userID's alerts as seen
func (s *Store) AcknowledgeAlert(ctx context.Context, userID, alertID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE weather_alerts SET acknowledged = 1 WHERE id = ? AND user_id = ?`, alertID, userID)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("alert", alertID)
	}
	return nil
}
