package audit

import (
	"context"
	"encoding/json"
	"time"

	"ballotguard.org/internal/obs"
)

// LogSink writes audit records as JSON lines on the shared service logger.
// Without a database it is the only sink; with one it mirrors the audit tables.
type LogSink struct{}

func (LogSink) WriteAdminLog(_ context.Context, e AdminLogEntry) error {
	return logLine(StreamAdmin, e.Action, e.Timestamp, e)
}

func (LogSink) WriteVoterAudit(_ context.Context, e VoterAuditEntry) error {
	return logLine(StreamVoter, e.ActionType, e.Timestamp, e)
}

func logLine(stream Stream, event string, ts time.Time, record any) error {
	entry := map[string]any{
		"ts":     ts.UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"stream": string(stream),
		"event":  event,
		"record": record,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// MultiSink writes every record to each sink and reports the first error.
type MultiSink []Sink

func (m MultiSink) WriteAdminLog(ctx context.Context, e AdminLogEntry) error {
	var first error
	for _, s := range m {
		if err := s.WriteAdminLog(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) WriteVoterAudit(ctx context.Context, e VoterAuditEntry) error {
	var first error
	for _, s := range m {
		if err := s.WriteVoterAudit(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
