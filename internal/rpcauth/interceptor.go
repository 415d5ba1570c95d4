// Package rpcauth runs the access control pipeline in front of gRPC services.
package rpcauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"

	"ballotguard.org/internal/audit"
	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/ids"
	"ballotguard.org/internal/obs"
)

// ErrorDomain is the ErrorInfo domain attached to every denial.
const ErrorDomain = "ballotguard.org"

// HealthMethods are served without authentication by default.
var HealthMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// Authenticator resolves the authorization metadata value into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (auth.Principal, error)
}

// Recorder receives the outcome of every authenticated call.
type Recorder interface {
	Record(ctx context.Context, p *auth.Principal, o audit.Outcome) audit.Stream
}

// Interceptor authenticates calls from the "authorization" metadata key and
// runs per-method guards. Guards read their params from request metadata.
type Interceptor struct {
	resolver Authenticator
	audit    Recorder
	public   map[string]struct{}
	rules    map[string][]auth.Guard
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithPublic replaces the set of methods that skip authentication.
func WithPublic(methods ...string) Option {
	return func(i *Interceptor) {
		i.public = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			i.public[m] = struct{}{}
		}
	}
}

// WithGuards attaches guards to a full method name. Methods without guards
// only require a valid, active principal.
func WithGuards(method string, guards ...auth.Guard) Option {
	return func(i *Interceptor) {
		i.rules[method] = append(i.rules[method], guards...)
	}
}

// New builds an Interceptor. Health methods are public unless WithPublic says otherwise.
func New(resolver Authenticator, rec Recorder, opts ...Option) (*Interceptor, error) {
	if resolver == nil || rec == nil {
		return nil, errors.New("rpcauth: resolver and recorder are required")
	}
	i := &Interceptor{
		resolver: resolver,
		audit:    rec,
		rules:    make(map[string][]auth.Guard),
	}
	WithPublic(HealthMethods...)(i)
	for _, opt := range opts {
		opt(i)
	}
	for method := range i.rules {
		delete(i.public, method)
	}
	return i, nil
}

// Unary returns the unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns the stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
	}
}

type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context { return s.ctx }

func (i *Interceptor) authorize(ctx context.Context, method string) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = audit.WithRequestMeta(ctx, requestMeta(ctx, md))
	if _, ok := i.public[method]; ok {
		return ctx, nil
	}

	principal, err := i.resolver.Authenticate(ctx, first(md, "authorization"))
	if err != nil {
		return ctx, i.deny(ctx, nil, method, "authenticate", err)
	}
	if err := auth.Check(principal, paramsOf(md), i.rules[method]...); err != nil {
		return ctx, i.deny(ctx, &principal, method, "authorize", err)
	}
	i.audit.Record(ctx, &principal, audit.Outcome{
		Action:       audit.ActionAccessGranted,
		ResourceType: "rpc",
		ResourceID:   method,
	})
	obs.ObserveAuthDecision("authorize", "OK")
	return auth.ContextWithPrincipal(ctx, principal), nil
}

func (i *Interceptor) deny(ctx context.Context, p *auth.Principal, method, stage string, err error) error {
	ae, _ := auth.AsError(err)
	i.audit.Record(ctx, p, audit.Outcome{
		Action:       audit.ActionAccessDenied,
		ResourceType: "rpc",
		ResourceID:   method,
		Failed:       true,
		Suspicious:   ae.Tier() == auth.TierAuthentication,
		Details:      map[string]any{"code": string(ae.Code), "tier": string(ae.Tier())},
	})
	obs.ObserveAuthDecision(stage, string(ae.Code))
	return ToStatus(ae)
}

// RetryAfter is the backoff hinted to clients when the principal store is unavailable.
const RetryAfter = time.Second

// ToStatus translates an auth failure into a gRPC status carrying an
// ErrorInfo detail whose Reason is the auth code.
func ToStatus(err error) error {
	ae, ok := auth.AsError(err)
	if !ok {
		return nil
	}
	st := status.New(codeFor(ae.Status), strings.ToLower(strings.ReplaceAll(string(ae.Code), "_", " ")))
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{
		Reason:   string(ae.Code),
		Domain:   ErrorDomain,
		Metadata: map[string]string{"tier": string(ae.Tier())},
	}}
	if ae.Status == http.StatusServiceUnavailable {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(RetryAfter)})
	}
	detailed, derr := st.WithDetails(details...)
	if derr == nil {
		st = detailed
	}
	return st.Err()
}

func codeFor(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

func requestMeta(ctx context.Context, md metadata.MD) audit.RequestMeta {
	meta := audit.RequestMeta{
		RequestID: first(md, "x-request-id"),
		UserAgent: first(md, "user-agent"),
	}
	if meta.RequestID == "" {
		meta.RequestID = ids.New()
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		meta.IP = p.Addr.String()
	}
	return meta
}

// paramsOf exposes single-valued metadata keys to guards.
func paramsOf(md metadata.MD) auth.Params {
	params := make(auth.Params, len(md))
	for k, v := range md {
		if len(v) > 0 && k != "authorization" {
			params[k] = v[0]
		}
	}
	return params
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
