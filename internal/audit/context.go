package audit

import (
	"context"
	"strings"
)

// RequestMeta is the request context copied into every audit record.
type RequestMeta struct {
	RequestID  string
	IP         string
	UserAgent  string
	AdminRoute bool
}

type ctxKey string

const requestMetaKey ctxKey = "audit_request_meta"

// WithRequestMeta attaches request metadata to the context for audit logging.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	meta.IP = strings.TrimSpace(meta.IP)
	meta.UserAgent = strings.TrimSpace(meta.UserAgent)
	return context.WithValue(ctx, requestMetaKey, meta)
}

// WithRequestID attaches the request identifier, keeping any other metadata.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	meta := MetaFromContext(ctx)
	meta.RequestID = requestID
	return WithRequestMeta(ctx, meta)
}

// MetaFromContext returns the attached metadata, or the zero value.
func MetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	meta, _ := ctx.Value(requestMetaKey).(RequestMeta)
	return meta
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	return MetaFromContext(ctx).RequestID
}
