package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrExpiredToken  = errors.New("auth: token expired")
	ErrUnknownRole   = errors.New("auth: unknown role")
	ErrMissingHeader = errors.New("auth: missing bearer token")
)

// Code is the machine readable reason attached to every auth failure.
type Code string

const (
	CodeAuthHeaderMissing       Code = "AUTH_HEADER_MISSING"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeInvalidTokenPayload     Code = "INVALID_TOKEN_PAYLOAD"
	CodeInvalidRole             Code = "INVALID_ROLE"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeAccountInactive         Code = "ACCOUNT_INACTIVE"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeRegionAccessDenied      Code = "REGION_ACCESS_DENIED"
	CodeRegionRequired          Code = "REGION_REQUIRED"
	CodeMFANotEnabled           Code = "MFA_NOT_ENABLED"
	CodeMFARequired             Code = "MFA_REQUIRED"
	CodeInvalidMFAToken         Code = "INVALID_MFA_TOKEN"
	CodeInvalidBackupCode       Code = "INVALID_BACKUP_CODE"
	CodeInvalidCredentials      Code = "INVALID_CREDENTIALS"
	CodeAuthUnavailable         Code = "AUTH_UNAVAILABLE"
	CodeAuthError               Code = "AUTHENTICATION_ERROR"
)

var codeStatus = map[Code]int{
	CodeAuthHeaderMissing:       http.StatusUnauthorized,
	CodeInvalidToken:            http.StatusUnauthorized,
	CodeTokenExpired:            http.StatusUnauthorized,
	CodeInvalidTokenPayload:     http.StatusUnauthorized,
	CodeInvalidRole:             http.StatusForbidden,
	CodeUserNotFound:            http.StatusUnauthorized,
	CodeAccountInactive:         http.StatusForbidden,
	CodeInsufficientPermissions: http.StatusForbidden,
	CodeRegionAccessDenied:      http.StatusForbidden,
	CodeRegionRequired:          http.StatusBadRequest,
	CodeMFANotEnabled:           http.StatusForbidden,
	CodeMFARequired:             http.StatusUnauthorized,
	CodeInvalidMFAToken:         http.StatusUnauthorized,
	CodeInvalidBackupCode:       http.StatusUnauthorized,
	CodeInvalidCredentials:      http.StatusUnauthorized,
	CodeAuthUnavailable:         http.StatusServiceUnavailable,
	CodeAuthError:               http.StatusInternalServerError,
}

// Tier classifies a failure for logging and transport mapping.
type Tier string

const (
	TierAuthentication Tier = "authentication"
	TierAuthorization  Tier = "authorization"
	TierRequest        Tier = "request"
	TierInternal       Tier = "internal"
)

// Error is an authentication or authorization failure carrying its transport
// status. Transport adapters translate it; nothing else inspects Status.
type Error struct {
	Code   Code
	Status int
	Err    error
}

// Fail builds an Error for code, wrapping the optional cause.
func Fail(code Code, cause error) *Error {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Status: status, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Tier reports which class of failure e belongs to.
func (e *Error) Tier() Tier {
	switch {
	case e.Status == http.StatusUnauthorized:
		return TierAuthentication
	case e.Status == http.StatusForbidden:
		return TierAuthorization
	case e.Status >= 400 && e.Status < 500:
		return TierRequest
	default:
		return TierInternal
	}
}

// AsError extracts an *Error from err. Any other non-nil error is reported as
// an internal authentication error so callers always fail closed.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return Fail(CodeAuthError, err), true
}

// ConfigError reports a missing or invalid startup setting. It is fatal: the
// process must not serve traffic with it.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
