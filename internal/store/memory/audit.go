package memory

import (
	"context"
	"sync"

	"ballotguard.org/internal/audit"
)

// AuditSink keeps audit records in memory. It backs tests and the who-did-what
// assertions in handler tests.
type AuditSink struct {
	mu    sync.Mutex
	admin []audit.AdminLogEntry
	voter []audit.VoterAuditEntry
}

func NewAuditSink() *AuditSink {
	return &AuditSink{}
}

func (s *AuditSink) WriteAdminLog(ctx context.Context, e audit.AdminLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = append(s.admin, e)
	return nil
}

func (s *AuditSink) WriteVoterAudit(ctx context.Context, e audit.VoterAuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voter = append(s.voter, e)
	return nil
}

// AdminLogs returns a copy of the admin stream.
func (s *AuditSink) AdminLogs() []audit.AdminLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.AdminLogEntry(nil), s.admin...)
}

// VoterAudits returns a copy of the voter stream.
func (s *AuditSink) VoterAudits() []audit.VoterAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.VoterAuditEntry(nil), s.voter...)
}
