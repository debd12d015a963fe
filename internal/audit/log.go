package audit

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"qazna.org/superadmin/internal/auth"
	"qazna.org/superadmin/internal/ids"
	"qazna.org/superadmin/internal/obs"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit_request_id"
	clientKey    ctxKey = "audit_client"
)

type client struct {
	ip        string
	userAgent string
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClient attaches the caller address and user agent.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, client{ip: strings.TrimSpace(ip), userAgent: userAgent})
}

func clientFromContext(ctx context.Context) client {
	if ctx == nil {
		return client{}
	}
	c, _ := ctx.Value(clientKey).(client)
	return c
}

// Recorder persists audit entries and mirrors them to the structured log.
// Write failures are logged and counted but never returned.
type Recorder struct {
	store auth.AuditStore
	now   func() time.Time
}

var _ auth.Auditor = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to store. A nil store only logs.
func NewRecorder(store auth.AuditStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record fills id, time and request metadata from ctx, appends the entry and logs it.
func (r *Recorder) Record(ctx context.Context, entry auth.AuditEntry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}
	c := clientFromContext(ctx)
	if entry.IP == "" {
		entry.IP = c.ip
	}
	if entry.UserAgent == "" {
		entry.UserAgent = c.userAgent
	}

	log := obs.Logger()
	if r.store != nil {
		if err := r.store.AppendAudit(context.WithoutCancel(ctx), &entry); err != nil {
			obs.IncAuditFailure()
			log.Error().Err(err).Str("audit_id", entry.ID).Str("action", entry.Action).Msg("audit write failed")
		}
	}
	obs.ObserveAudit(entry.Action, entry.Success)

	ev := log.Info()
	if !entry.Success {
		ev = log.Warn()
	}
	ev.Str("type", "audit").
		Str("audit_id", entry.ID).
		Str("event", entry.Action).
		Bool("success", entry.Success).
		Func(func(e *zerolog.Event) {
			optional(e, "request_id", entry.RequestID)
			optional(e, "actor_user_id", entry.ActorUserID)
			optional(e, "target_user_id", entry.TargetUserID)
			optional(e, "target_tenant_id", entry.TargetTenantID)
			optional(e, "failure_reason", entry.FailureReason)
			optional(e, "ip", entry.IP)
			if len(entry.Metadata) > 0 {
				dict := zerolog.Dict()
				for k, v := range entry.Metadata {
					dict.Str(k, v)
				}
				e.Dict("fields", dict)
			}
		}).
		Msg("audit")
}

func optional(e *zerolog.Event, key, value string) {
	if value != "" {
		e.Str(key, value)
	}
}
