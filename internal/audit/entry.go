package audit

import "time"

// Stream names one of the two audit destinations.
type Stream string

const (
	StreamAdmin Stream = "admin"
	StreamVoter Stream = "voter"
)

// Actions recorded by the access control core.
const (
	ActionLoginSuccess          = "login_success"
	ActionLoginFailed           = "login_failed"
	ActionTokenRefreshed        = "token_refreshed"
	ActionTokenRefreshFailed    = "token_refresh_failed"
	ActionAccessGranted         = "access_granted"
	ActionAccessDenied          = "access_denied"
	ActionMFAEnrollmentStarted  = "mfa_enrollment_started"
	ActionMFAEnabled            = "mfa_enabled"
	ActionMFAVerified           = "mfa_verified"
	ActionMFAVerificationFailed = "mfa_verification_failed"
	ActionMFADisabled           = "mfa_disabled"
	ActionMFADisableFailed      = "mfa_disable_failed"
	ActionBackupCodesGenerated  = "backup_codes_generated"
	ActionBackupCodeUsed        = "backup_code_used"
	ActionBackupCodeFailed      = "backup_code_failed"
)

// AdminLogEntry is an append-only record of an action taken by electoral staff.
type AdminLogEntry struct {
	ID           string         `json:"id"`
	ActorID      string         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// VoterAuditEntry is an append-only record of voter or anonymous activity.
type VoterAuditEntry struct {
	ID           string         `json:"id"`
	ActorID      string         `json:"actor_id,omitempty"`
	ActionType   string         `json:"action_type"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Details      map[string]any `json:"details"`
	IsSuspicious bool           `json:"is_suspicious"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Outcome describes what happened to a guarded operation.
type Outcome struct {
	Action       string
	ResourceType string
	ResourceID   string
	Failed       bool
	Suspicious   bool
	Details      map[string]any
}
