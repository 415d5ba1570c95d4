package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/ids"
	"ballotguard.org/internal/obs"
)

// Sink persists audit records. Implementations must be safe for concurrent use.
type Sink interface {
	WriteAdminLog(ctx context.Context, entry AdminLogEntry) error
	WriteVoterAudit(ctx context.Context, entry VoterAuditEntry) error
}

// Publisher receives suspicious voter entries for live monitoring.
type Publisher interface {
	Publish(entry VoterAuditEntry)
}

const defaultWriteTimeout = 5 * time.Second

// ErrClosed is reported to diagnostics for records submitted after Close.
var ErrClosed = errors.New("audit: router closed")

type job struct {
	ctx   context.Context
	admin *AdminLogEntry
	voter *VoterAuditEntry
}

// Router picks the audit stream for each outcome and writes it best-effort.
// Sink failures never reach the caller; they go to obs.Diagnostic instead.
type Router struct {
	sink         Sink
	publisher    Publisher
	now          func() time.Time
	writeTimeout time.Duration
	queueSize    int

	mu     sync.RWMutex
	queue  chan job
	closed bool
	wg     sync.WaitGroup
}

// Option configures Router behavior.
type Option func(*Router)

// WithQueue makes writes asynchronous through a bounded queue of size n.
// When the queue is full the record is written on the caller's goroutine.
func WithQueue(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithPublisher forwards suspicious voter entries to p.
func WithPublisher(p Publisher) Option {
	return func(r *Router) { r.publisher = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// NewRouter builds a router writing to sink.
func NewRouter(sink Sink, opts ...Option) *Router {
	r := &Router{
		sink:         sink,
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queueSize > 0 {
		r.queue = make(chan job, r.queueSize)
		r.wg.Add(1)
		go r.run()
	}
	return r
}

// Record writes one audit record for outcome. The acting principal is p, or
// the principal attached to ctx when p is nil. Admin principals and requests
// on admin-only routes go to the admin log; everything else to the voter
// audit stream. It returns the stream chosen.
func (r *Router) Record(ctx context.Context, p *auth.Principal, o Outcome) Stream {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil {
		if fromCtx, ok := auth.PrincipalFromContext(ctx); ok {
			p = &fromCtx
		}
	}
	meta := MetaFromContext(ctx)
	now := r.now().UTC()
	details := outcomeDetails(o, meta)

	var actor string
	isAdmin := meta.AdminRoute
	if p != nil {
		actor = p.ID
		isAdmin = isAdmin || p.Kind == auth.KindAdmin
	}

	j := job{ctx: context.WithoutCancel(ctx)}
	stream := StreamVoter
	if isAdmin {
		stream = StreamAdmin
		j.admin = &AdminLogEntry{
			ID:           ids.NewAt(now),
			ActorID:      actor,
			Action:       o.Action,
			ResourceType: resourceType(o),
			ResourceID:   o.ResourceID,
			Details:      details,
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			Timestamp:    now,
		}
	} else {
		j.voter = &VoterAuditEntry{
			ID:           ids.NewAt(now),
			ActorID:      actor,
			ActionType:   o.Action,
			IP:           meta.IP,
			UserAgent:    meta.UserAgent,
			Details:      details,
			IsSuspicious: o.Suspicious,
			Timestamp:    now,
		}
		if o.Suspicious && r.publisher != nil {
			r.publisher.Publish(*j.voter)
		}
	}

	r.dispatch(j)
	return stream
}

func (r *Router) dispatch(j job) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.fail(j, ErrClosed)
		obs.ObserveAuditDropped()
		return
	}
	if r.queue != nil {
		select {
		case r.queue <- j:
			r.mu.RUnlock()
			return
		default:
		}
	}
	r.mu.RUnlock()
	r.write(j)
}

func (r *Router) run() {
	defer r.wg.Done()
	for j := range r.queue {
		r.write(j)
	}
}

func (r *Router) write(j job) {
	if r.sink == nil {
		r.fail(j, errors.New("audit: no sink configured"))
		return
	}
	ctx, cancel := context.WithTimeout(j.ctx, r.writeTimeout)
	defer cancel()

	stream := StreamVoter
	if j.admin != nil {
		stream = StreamAdmin
	}
	if err := r.persist(ctx, j); err != nil {
		r.fail(j, err)
		obs.ObserveAuditFailure(string(stream))
		return
	}
	obs.ObserveAuditRecord(string(stream))
}

// persist writes j to the sink. A sink panic comes back as an error.
func (r *Router) persist(ctx context.Context, j job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("audit: sink panic: %v", rec)
		}
	}()
	if j.admin != nil {
		return r.sink.WriteAdminLog(ctx, *j.admin)
	}
	return r.sink.WriteVoterAudit(ctx, *j.voter)
}

func (r *Router) fail(j job, err error) {
	fields := map[string]any{"error": err.Error()}
	if j.admin != nil {
		fields["stream"] = string(StreamAdmin)
		fields["action"] = j.admin.Action
		fields["record_id"] = j.admin.ID
	} else {
		fields["stream"] = string(StreamVoter)
		fields["action"] = j.voter.ActionType
		fields["record_id"] = j.voter.ID
	}
	if rid := RequestIDFromContext(j.ctx); rid != "" {
		fields["request_id"] = rid
	}
	obs.Diagnostic("audit_write_failed", fields)
}

// Close stops accepting records and drains the queue. It returns ctx.Err()
// if draining does not finish in time.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.queue != nil {
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcomeDetails(o Outcome, meta RequestMeta) map[string]any {
	details := make(map[string]any, len(o.Details)+2)
	for k, v := range o.Details {
		details[k] = v
	}
	if o.Failed {
		details["result"] = "failure"
	} else {
		details["result"] = "success"
	}
	if meta.RequestID != "" {
		details["request_id"] = meta.RequestID
	}
	return details
}

func resourceType(o Outcome) string {
	if rt := strings.TrimSpace(o.ResourceType); rt != "" {
		return rt
	}
	return "auth"
}
