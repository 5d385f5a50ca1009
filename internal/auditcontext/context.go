// Package auditcontext carries per-request forensic metadata (request id,
// client IP, user agent) so audit entries written deep in the service layer
// record where the request came from.
package auditcontext

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestIDKey{})
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ipAddressKey{})
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

func UserAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentKey{})
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return strings.TrimSpace(value)
}
