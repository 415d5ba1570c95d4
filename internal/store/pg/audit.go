package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ballotguard.org/internal/audit"
)

var _ audit.Sink = (*AuditSink)(nil)

// AuditSink appends audit records to admin_logs and voter_audit_logs.
type AuditSink struct {
	db *sql.DB
}

func (s *AuditSink) WriteAdminLog(ctx context.Context, e audit.AdminLogEntry) error {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into admin_logs (id, actor_id, action, resource_type, resource_id, details, ip, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, nullIfEmpty(e.ActorID), e.Action, e.ResourceType, nullIfEmpty(e.ResourceID), details,
		nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), e.Timestamp)
	return classify(err)
}

func (s *AuditSink) WriteVoterAudit(ctx context.Context, e audit.VoterAuditEntry) error {
	details, err := marshalDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into voter_audit_logs (id, actor_id, action_type, ip, user_agent, details, is_suspicious, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, nullIfEmpty(e.ActorID), e.ActionType, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), details,
		e.IsSuspicious, e.Timestamp)
	return classify(err)
}

func marshalDetails(details map[string]any) ([]byte, error) {
	if len(details) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}
	return data, nil
}
