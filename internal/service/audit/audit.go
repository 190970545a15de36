package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"contractflow/internal/models"
	"contractflow/internal/storage"
)

// Service writes and lists audit log entries.
type Service struct {
	db *storage.DB
}

func NewService(db *storage.DB) *Service {
	return &Service{db: db}
}

// Record appends an entry using q, so callers can make it part of the
// transaction that performed the action.
func Record(ctx context.Context, q storage.Querier, actorID *int64, action models.AuditAction, details map[string]any) error {
	var payload sql.NullString
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, user_id, action, details) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), actorID, string(action), payload,
	)
	if err != nil {
		return fmt.Errorf("record audit %s: %w", action, err)
	}
	return nil
}

// Record appends an entry outside any transaction.
func (s *Service) Record(ctx context.Context, actorID *int64, action models.AuditAction, details map[string]any) error {
	return Record(ctx, s.db, actorID, action, details)
}

// List returns entries newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, user_id, action, details FROM audit_logs
		 ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		var (
			entry   models.AuditLog
			userID  sql.NullInt64
			action  string
			details sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &userID, &action, &details); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entry.Action = models.AuditAction(action)
		if userID.Valid {
			id := userID.Int64
			entry.UserID = &id
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %d: %w", entry.ID, err)
			}
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}
