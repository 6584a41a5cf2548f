package sqlite

import (
	"context"
	"database/sql"

	"github.com/attendgrid/sessiond/internal/auth/domain"
)

type auditEventsRepo struct {
	q querier
}

func (r *auditEventsRepo) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	var userID sql.NullString
	if ev.UserID != "" {
		userID = sql.NullString{String: ev.UserID, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_events (id, event_type, details, user_id)
		VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.Details, userID,
	)
	return mapErr(err)
}

func (r *auditEventsRepo) ListRecentAuditEvents(
	ctx context.Context,
	limit int,
) ([]domain.AuditEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, event_type, details, user_id, created_at
		FROM audit_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			ev     domain.AuditEvent
			userID sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Details, &userID, &ev.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		ev.UserID = userID.String
		events = append(events, ev)
	}
	return events, mapErr(rows.Err())
}
