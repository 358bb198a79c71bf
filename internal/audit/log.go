package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

// Security events emitted by the HTTP layer.
const (
	EventSignInSucceeded   = "auth.sign_in.succeeded"
	EventSignInFailed      = "auth.sign_in.failed"
	EventRefreshReused     = "auth.refresh.reused"
	EventSignOut           = "auth.sign_out"
	EventSignUp            = "auth.sign_up"
	EventInviteCreated     = "auth.invite.created"
	EventInviteAccepted    = "auth.invite.accepted"
	EventAllowanceUpdated  = "account.allowance.updated"
	EventAllowanceRejected = "account.allowance.rejected"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and caller context.
// Field keys are emitted in sorted order under "fields".
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		attrs = append(attrs, slog.String("user_id", userID))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	group := make([]any, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, fields[k]))
	}
	attrs = append(attrs, slog.Group("fields", group...))

	if ctx == nil {
		ctx = context.Background()
	}
	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
