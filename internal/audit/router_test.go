package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/obs"
	"ballotguard.org/internal/stream"
)

type recordingSink struct {
	mu       sync.Mutex
	admin    []AdminLogEntry
	voter    []VoterAuditEntry
	failWith error
	delay    time.Duration
}

func (s *recordingSink) WriteAdminLog(_ context.Context, e AdminLogEntry) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.admin = append(s.admin, e)
	return nil
}

func (s *recordingSink) WriteVoterAudit(_ context.Context, e VoterAuditEntry) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.voter = append(s.voter, e)
	return nil
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.admin), len(s.voter)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	buf := &lockedBuffer{}
	logger.SetOutput(buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return buf
}

func voterPrincipal() auth.Principal {
	return auth.NewVoterPrincipal(auth.VoterRecord{ID: "voter-1", RegionID: "kano", Active: true})
}

func adminPrincipal() auth.Principal {
	return auth.NewAdminPrincipal(auth.AdminRecord{ID: "admin-1", AdminType: auth.RoleSecurityOfficer, Active: true})
}

func TestRecordRoutesVoterToVoterStreamOnly(t *testing.T) {
	sink := &recordingSink{}
	router := NewRouter(sink)
	p := voterPrincipal()

	ctx := WithRequestMeta(context.Background(), RequestMeta{RequestID: "req-1", IP: "10.0.0.7", UserAgent: "ua"})
	got := router.Record(ctx, &p, Outcome{Action: ActionMFAEnabled})

	require.Equal(t, StreamVoter, got)
	admins, voters := sink.counts()
	require.Zero(t, admins)
	require.Equal(t, 1, voters)
	entry := sink.voter[0]
	require.Equal(t, "mfa_enabled", entry.ActionType)
	require.Equal(t, "voter-1", entry.ActorID)
	require.Equal(t, "10.0.0.7", entry.IP)
	require.Equal(t, "ua", entry.UserAgent)
	require.Equal(t, "req-1", entry.Details["request_id"])
	require.Equal(t, "success", entry.Details["result"])
	require.False(t, entry.IsSuspicious)
	require.NotEmpty(t, entry.ID)
}

func TestRecordRoutesAdminToAdminLogOnly(t *testing.T) {
	sink := &recordingSink{}
	fixed := time.Date(2026, 2, 25, 8, 0, 0, 0, time.UTC)
	router := NewRouter(sink, WithClock(func() time.Time { return fixed }))
	p := adminPrincipal()

	got := router.Record(context.Background(), &p, Outcome{
		Action:       ActionAccessDenied,
		ResourceType: "region",
		ResourceID:   "lagos",
		Failed:       true,
		Details:      map[string]any{"code": "REGION_ACCESS_DENIED"},
	})

	require.Equal(t, StreamAdmin, got)
	admins, voters := sink.counts()
	require.Equal(t, 1, admins)
	require.Zero(t, voters)
	entry := sink.admin[0]
	require.Equal(t, "admin-1", entry.ActorID)
	require.Equal(t, "region", entry.ResourceType)
	require.Equal(t, "lagos", entry.ResourceID)
	require.Equal(t, "failure", entry.Details["result"])
	require.Equal(t, "REGION_ACCESS_DENIED", entry.Details["code"])
	require.True(t, entry.Timestamp.Equal(fixed))
}

func TestRecordAnonymousOnAdminRoute(t *testing.T) {
	sink := &recordingSink{}
	router := NewRouter(sink)

	ctx := WithRequestMeta(context.Background(), RequestMeta{AdminRoute: true})
	require.Equal(t, StreamAdmin, router.Record(ctx, nil, Outcome{Action: ActionAccessDenied, Failed: true}))

	require.Equal(t, StreamVoter, router.Record(context.Background(), nil, Outcome{Action: ActionLoginFailed, Failed: true, Suspicious: true}))
	admins, voters := sink.counts()
	require.Equal(t, 1, admins)
	require.Equal(t, 1, voters)
	require.Empty(t, sink.admin[0].ActorID)
	require.Equal(t, "auth", sink.admin[0].ResourceType)
	require.True(t, sink.voter[0].IsSuspicious)
}

func TestRecordFallsBackToContextPrincipal(t *testing.T) {
	sink := &recordingSink{}
	router := NewRouter(sink)

	ctx := auth.ContextWithPrincipal(context.Background(), adminPrincipal())
	require.Equal(t, StreamAdmin, router.Record(ctx, nil, Outcome{Action: ActionAccessGranted}))
	require.Equal(t, "admin-1", sink.admin[0].ActorID)
}

func TestSinkFailureGoesToDiagnostics(t *testing.T) {
	logs := captureLogs(t)
	sink := &recordingSink{failWith: errors.New("disk full")}
	router := NewRouter(sink)
	p := voterPrincipal()

	ctx := WithRequestID(context.Background(), "req-9")
	require.NotPanics(t, func() {
		router.Record(ctx, &p, Outcome{Action: ActionBackupCodeFailed, Failed: true, Suspicious: true})
	})

	line := strings.TrimSpace(logs.String())
	require.NotEmpty(t, line)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	require.Equal(t, "diagnostic", entry["type"])
	require.Equal(t, "audit_write_failed", entry["msg"])
	require.Equal(t, "voter", entry["stream"])
	require.Equal(t, "backup_code_failed", entry["action"])
	require.Equal(t, "disk full", entry["error"])
	require.Equal(t, "req-9", entry["request_id"])
}

type panickingSink struct{}

func (panickingSink) WriteAdminLog(context.Context, AdminLogEntry) error { panic("sink exploded") }
func (panickingSink) WriteVoterAudit(context.Context, VoterAuditEntry) error {
	panic("sink exploded")
}

func TestSinkPanicIsContained(t *testing.T) {
	logs := captureLogs(t)
	p := adminPrincipal()

	direct := NewRouter(panickingSink{})
	require.NotPanics(t, func() {
		direct.Record(context.Background(), &p, Outcome{Action: ActionAccessGranted})
	})
	require.Contains(t, logs.String(), "audit_write_failed")
	require.Contains(t, logs.String(), "sink exploded")

	queued := NewRouter(panickingSink{}, WithQueue(2))
	for i := 0; i < 5; i++ {
		queued.Record(context.Background(), &p, Outcome{Action: ActionAccessGranted})
	}
	require.NoError(t, queued.Close(context.Background()))
	require.Equal(t, 6, strings.Count(logs.String(), "audit_write_failed"))
}

func TestQueuedRouterDrainsOnClose(t *testing.T) {
	sink := &recordingSink{delay: time.Millisecond}
	router := NewRouter(sink, WithQueue(4))
	p := voterPrincipal()

	const n = 25
	for i := 0; i < n; i++ {
		router.Record(context.Background(), &p, Outcome{Action: ActionLoginSuccess})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, router.Close(ctx))

	_, voters := sink.counts()
	require.Equal(t, n, voters)
	require.NoError(t, router.Close(ctx))
}

func TestRecordAfterCloseIsReported(t *testing.T) {
	logs := captureLogs(t)
	sink := &recordingSink{}
	router := NewRouter(sink, WithQueue(1))
	require.NoError(t, router.Close(context.Background()))

	p := adminPrincipal()
	router.Record(context.Background(), &p, Outcome{Action: ActionAccessGranted})

	admins, _ := sink.counts()
	require.Zero(t, admins)
	require.Contains(t, logs.String(), ErrClosed.Error())
}

func TestSuspiciousEntriesArePublished(t *testing.T) {
	hub := stream.New[VoterAuditEntry](4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx)

	router := NewRouter(&recordingSink{}, WithPublisher(hub))
	p := voterPrincipal()
	router.Record(context.Background(), &p, Outcome{Action: ActionMFAEnabled})
	router.Record(context.Background(), &p, Outcome{Action: ActionMFAVerificationFailed, Failed: true, Suspicious: true})

	select {
	case got := <-events:
		require.Equal(t, ActionMFAVerificationFailed, got.ActionType)
		require.True(t, got.IsSuspicious)
	case <-time.After(time.Second):
		t.Fatal("suspicious entry not published")
	}
	select {
	case got := <-events:
		t.Fatalf("unexpected extra event %+v", got)
	default:
	}
}

func TestLogSinkWritesJSONLine(t *testing.T) {
	logs := captureLogs(t)
	ts := time.Date(2026, 2, 25, 8, 0, 0, 0, time.UTC)
	require.NoError(t, LogSink{}.WriteVoterAudit(context.Background(), VoterAuditEntry{
		ID:         "01J0000000000000000000000",
		ActorID:    "voter-1",
		ActionType: ActionLoginSuccess,
		Details:    map[string]any{},
		Timestamp:  ts,
	}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(logs.String())), &entry))
	require.Equal(t, "audit", entry["type"])
	require.Equal(t, "voter", entry["stream"])
	require.Equal(t, "login_success", entry["event"])
	record, ok := entry["record"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "voter-1", record["actor_id"])
}

func TestMultiSinkReportsFirstError(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{failWith: errors.New("unavailable")}
	err := MultiSink{bad, ok}.WriteAdminLog(context.Background(), AdminLogEntry{Action: ActionAccessGranted})
	require.EqualError(t, err, "unavailable")
	admins, _ := ok.counts()
	require.Equal(t, 1, admins)
}
