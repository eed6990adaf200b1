package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// AuditSink receives authentication events. The login flow calls it
// unconditionally; deployments that do not want an audit trail inject
// NopAuditSink.
type AuditSink interface {
	LogAuthEvent(ctx context.Context, event AuthEvent)
}

// NopAuditSink discards all events.
type NopAuditSink struct{}

func (NopAuditSink) LogAuthEvent(context.Context, AuthEvent) {}

// AuditRepository persists authentication events to auth_audit_log.
type AuditRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *pgxpool.Pool, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{db: db, log: log}
}

// LogAuthEvent writes one audit entry. Failures are logged and swallowed so
// an unavailable audit table never blocks a login.
func (r *AuditRepository) LogAuthEvent(ctx context.Context, event AuthEvent) {
	query := `
		INSERT INTO auth_audit_log (user_id, username, event_type, ip_address, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var userID *string
	if event.UserID != "" {
		userID = &event.UserID
	}
	var reason *string
	if event.Reason != "" {
		reason = &event.Reason
	}

	if _, err := r.db.Exec(ctx, query, userID, event.Username, event.Event, event.IPAddress, event.Success, reason); err != nil {
		r.log.Error().Err(err).Str("event", event.Event).Msg("Failed to write auth audit entry")
	}
}

// RecentEvents returns the newest audit entries for a user, newest first.
func (r *AuditRepository) RecentEvents(ctx context.Context, userID string, limit int) ([]AuthEvent, error) {
	query := `
		SELECT COALESCE(user_id::text, ''), username, event_type, ip_address, success, COALESCE(reason, ''), created_at
		FROM auth_audit_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]AuthEvent, 0)
	for rows.Next() {
		var e AuthEvent
		if err := rows.Scan(&e.UserID, &e.Username, &e.Event, &e.IPAddress, &e.Success, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
