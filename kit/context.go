// Package kit holds the request-scoped values shared between middleware and
// handlers: trace id, authenticated user and the resolved client address.
package kit

import "context"

type contextKey string

const (
	UserIDKey   contextKey = "kit_user_id"
	RoleKey     contextKey = "kit_role"
	TraceIDKey  contextKey = "kit_trace_id"
	ClientIPKey contextKey = "kit_client_ip"
)

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP returns the client address stored by shield.TraceID, or
// "unknown" when the request did not pass through it.
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ClientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
